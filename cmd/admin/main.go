package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"shopchat/backend/internal/storage"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type adminConfig struct {
	DatabaseDSN   string `env:"DATABASE_DSN" envDefault:"host=localhost user=user password=password dbname=shopchat port=5432 sslmode=disable"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6380"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

const usage = `Usage: admin <command> [args]

Commands:
  ban <user_id> [duration_in_hours]
  unban <user_id>
  history <conversation_id> [limit]
  assign <conversation_id> <agent_id>
  close <conversation_id>
  online`

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var cfg adminConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, storage.NewStorageService(db, rdb), os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Println(usage)
			os.Exit(1)
		}
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("command failed")
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, s *storage.Service, args []string) error {
	switch args[0] {
	case "ban":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		var hours int
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid duration %q: provide a non-negative integer", args[2])
			}
			hours = n
		}
		if err := s.BanUser(ctx, args[1], time.Duration(hours)*time.Hour); err != nil {
			return err
		}
		fmt.Printf("User %s has been banned.\n", args[1])

	case "unban":
		if len(args) != 2 {
			return errUsage
		}
		if err := s.UnbanUser(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("User %s has been unbanned.\n", args[1])

	case "history":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		limit := 20
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid limit %q", args[2])
			}
			limit = n
		}
		msgs, err := s.GetRecentAssistantMessages(ctx, args[1], limit)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Printf("%s  %-9s  %s\n", m.CreatedAt.Format(time.RFC3339), m.Role, m.Text)
		}

	case "assign":
		if len(args) != 3 {
			return errUsage
		}
		if err := s.AssignAgent(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("Conversation %s assigned to %s.\n", args[1], args[2])

	case "close":
		if len(args) != 2 {
			return errUsage
		}
		if err := s.CloseConversation(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("Conversation %s has been closed.\n", args[1])

	case "online":
		users, err := s.GetOnlineUsers(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d online: %s\n", len(users), strings.Join(users, ", "))

	default:
		return errUsage
	}
	return nil
}

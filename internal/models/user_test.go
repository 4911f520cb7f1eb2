package models_test

import (
	"reflect"
	"testing"

	"shopchat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

// TestUserBeforeCreate_GeneratesUUID verifies that the BeforeCreate hook generates a valid UUID.
func TestUserBeforeCreate_GeneratesUUID(t *testing.T) {
	user := &models.User{Name: "Olena", Roles: pq.StringArray{"admin"}}
	assert.Empty(t, user.ID)

	err := user.BeforeCreate(nil)

	assert.NoError(t, err)
	parsed, parseErr := uuid.Parse(user.ID)
	assert.NoError(t, parseErr, "User ID must be a valid UUID string")
	assert.NotEqual(t, uuid.Nil, parsed)
}

// TestUserBeforeCreate_PreservesExistingID verifies that the hook doesn't overwrite an existing ID.
func TestUserBeforeCreate_PreservesExistingID(t *testing.T) {
	existingID := uuid.New().String()
	user := &models.User{ID: existingID, Name: "Taras"}

	err := user.BeforeCreate(nil)

	assert.NoError(t, err)
	assert.Equal(t, existingID, user.ID)
}

func TestUserBeforeCreate_MultipleUsers(t *testing.T) {
	users := []*models.User{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	seen := make(map[string]bool)

	for _, user := range users {
		assert.NoError(t, user.BeforeCreate(nil))
		assert.NotContains(t, seen, user.ID, "Each user should have a unique ID")
		seen[user.ID] = true
	}
	assert.Len(t, seen, len(users))
}

func TestUserHasRole(t *testing.T) {
	user := models.User{Roles: pq.StringArray{"customer", "agent"}}

	assert.True(t, user.HasRole("agent"))
	assert.False(t, user.HasRole("admin"))
	assert.False(t, (&models.User{}).HasRole("agent"), "nil roles never match")
}

// TestUserStructTags guards the GORM and JSON tags the storage layer relies on.
func TestUserStructTags(t *testing.T) {
	userType := reflect.TypeOf(models.User{})

	idField, found := userType.FieldByName("ID")
	assert.True(t, found)
	assert.Contains(t, idField.Tag.Get("gorm"), "primaryKey")
	assert.Contains(t, idField.Tag.Get("json"), "id")

	rolesField, found := userType.FieldByName("Roles")
	assert.True(t, found)
	assert.Contains(t, rolesField.Tag.Get("gorm"), "type:text[]", "Roles should use PostgreSQL array type")

	tgField, found := userType.FieldByName("TelegramID")
	assert.True(t, found)
	assert.Equal(t, "-", tgField.Tag.Get("json"), "Telegram chat ids never leave the server")
}

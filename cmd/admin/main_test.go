package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffHub/internal/config"
	"staffHub/internal/database"
)

func TestUpsertAdmin(t *testing.T) {
	db, err := database.OpenInMemory(t.Name())
	require.NoError(t, err)

	code := "EMP1"
	profile := database.Profile{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", EmployeeCode: &code, StorageKey: "EMP1_Jane_Doe"}
	require.NoError(t, db.Create(&profile).Error)

	created, err := upsertAdmin(db, "root", "hash-1", "EMP1", false)
	require.NoError(t, err)
	assert.True(t, created)

	var user database.User
	require.NoError(t, db.Where("username = ?", "root").First(&user).Error)
	assert.True(t, user.IsAdmin)
	assert.True(t, user.MustChangePassword)
	require.NotNil(t, user.ProfileID)
	assert.Equal(t, profile.ID, *user.ProfileID)

	_, err = upsertAdmin(db, "root", "hash-2", "", false)
	assert.ErrorContains(t, err, "already exists")

	require.NoError(t, db.Model(&user).Update("must_change_password", false).Error)
	created, err = upsertAdmin(db, "root", "hash-2", "", true)
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, db.First(&user, user.ID).Error)
	assert.Equal(t, "hash-2", user.PasswordHash)
	assert.True(t, user.MustChangePassword)
}

func TestOverrideDatabase(t *testing.T) {
	d := config.DatabaseConfig{Driver: "postgres", Host: "db", Name: "staffhub"}
	overrideDatabase(&d, " SQLite ", "/tmp/x.db", "", "")
	assert.Equal(t, "sqlite", d.Driver)
	assert.Equal(t, "/tmp/x.db", d.SQLitePath)
	assert.Equal(t, "db", d.Host)
	assert.Equal(t, "staffhub", d.Name)
}

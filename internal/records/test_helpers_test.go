package records

import (
	"fmt"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustService(testContext *testing.T) *Service {
	testContext.Helper()
	databaseName := strings.NewReplacer("/", "_", " ", "_").Replace(testContext.Name())
	database, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", databaseName)), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDatabase, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql database: %v", err)
	}
	sqlDatabase.SetMaxOpenConns(1)
	testContext.Cleanup(func() {
		_ = sqlDatabase.Close()
	})
	if err := database.AutoMigrate(Models()...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: database})
	if err != nil {
		testContext.Fatalf("failed to create service: %v", err)
	}
	return service
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustRecordID(t *testing.T, value string) RecordID {
	t.Helper()
	id, err := NewRecordID(value)
	if err != nil {
		t.Fatalf("unexpected record id error: %v", err)
	}
	return id
}

package credstore

import (
	"strings"
	"sync"
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/gorm/utils/tests"
)

func TestCredentialUpdateColumnsExistOnModel(t *testing.T) {
	s, err := schema.Parse(&CredentialModel{}, &sync.Map{}, schema.NamingStrategy{})
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	for _, col := range append([]string{"profile"}, credentialUpdateColumns...) {
		if s.LookUpField(col) == nil {
			t.Fatalf("column %q is not a field of %s", col, s.Table)
		}
	}
	if s.Table != "librarydesk_credentials" {
		t.Fatalf("table = %q", s.Table)
	}
	if len(s.PrimaryFields) != 1 || s.PrimaryFields[0].DBName != "profile" {
		t.Fatalf("profile must be the only primary key, got %v", s.PrimaryFields)
	}
}

func TestGormStoreUpsertStatement(t *testing.T) {
	db, err := gorm.Open(tests.DummyDialector{}, &gorm.Config{DryRun: true})
	if err != nil {
		t.Fatalf("open dry-run db: %v", err)
	}
	store := &GormStore{db: db, profile: "desk-1"}

	stmt := store.upsert(testCredentials()).Statement
	sql := stmt.SQL.String()
	if !strings.Contains(sql, "librarydesk_credentials") || !strings.Contains(sql, "ON CONFLICT") {
		t.Fatalf("expected upsert into credentials table, got %s", sql)
	}
	update := sql[strings.Index(sql, "ON CONFLICT"):]
	for _, col := range credentialUpdateColumns {
		if !strings.Contains(update, col) {
			t.Fatalf("upsert does not update %q: %s", col, sql)
		}
	}
	if strings.Contains(update, "SET `profile`") {
		t.Fatalf("upsert must not rewrite the key: %s", sql)
	}
	found := false
	for _, v := range stmt.Vars {
		if v == "desk-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("profile not bound in %v", stmt.Vars)
	}
}

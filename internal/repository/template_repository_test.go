package repository

import (
	"context"
	"errors"
	"fmt"
	"protoforge/internal/model"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.Template{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestTemplateRepository_CRUD(t *testing.T) {
	repo := NewTemplateRepository(newTestDB(t))
	ctx := context.Background()

	tpl := &model.Template{ID: "t1", Name: "todo", Description: "todo list", FileURI: "protoforge/templates/t1/index.html"}
	if err := repo.Save(ctx, tpl); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "t1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.FileURI != tpl.FileURI || got.Name != "todo" {
		t.Errorf("GetByID() = %+v", got)
	}
	if byName, err := repo.GetByName(ctx, "todo"); err != nil || byName.ID != "t1" {
		t.Errorf("GetByName() = %+v, %v", byName, err)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrTemplateNotFound", err)
	}

	list, err := repo.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %v, %v", list, err)
	}

	if ok, err := repo.Delete(ctx, "t1"); err != nil || !ok {
		t.Fatalf("Delete() = %v, %v", ok, err)
	}
	if ok, err := repo.Delete(ctx, "t1"); err != nil || ok {
		t.Errorf("Delete(again) = %v, %v; want false, nil", ok, err)
	}
}

func TestUserRepository(t *testing.T) {
	repo := NewUserRepository(newTestDB(t))

	if n, _ := repo.Count(); n != 0 {
		t.Fatalf("Count() = %d, want 0", n)
	}
	u := &model.User{Username: "alice", Password: "hash", Role: "ADMIN"}
	if err := repo.Create(u); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, err := repo.FindByUsername("alice")
	if err != nil || got.ID != u.ID || !got.IsAdmin() {
		t.Errorf("FindByUsername() = %+v, %v", got, err)
	}
	if _, err := repo.FindByID(999); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("FindByID(missing) error = %v, want ErrUserNotFound", err)
	}
	if n, _ := repo.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

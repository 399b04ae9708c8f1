package services_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/emofelix-web/internal/models"
	"github.com/MegaGrindStone/emofelix-web/internal/services"
)

func TestBoltDBArchive(t *testing.T) {
	ctx := context.Background()
	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	first, err := db.AddConversation(ctx, models.Conversation{ID: "a", UserID: 1, RelationID: 3, Title: "Mom"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := db.AddConversation(ctx, models.Conversation{ID: "b", UserID: 1, RelationID: 4, Title: "Dad"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddConversation(ctx, models.Conversation{ID: "c", UserID: 2, Title: "Other user"}); err != nil {
		t.Fatal(err)
	}

	convs, err := db.Conversations(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 || convs[0].ID != second || convs[1].ID != first {
		t.Fatalf("Conversations() = %+v, want newest first", convs)
	}

	now := time.Now().UTC().Truncate(time.Second)
	msgs := []models.Message{
		{ID: "m1", Sender: models.SenderAssistant, Content: "Hello!", Timestamp: now},
		{ID: "m2", Sender: models.SenderUser, Content: "hi mom", Timestamp: now},
	}
	for _, m := range msgs {
		if err := db.AddMessage(ctx, first, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.Messages(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Errorf("Messages() = %+v", got)
	}
	if !got[0].Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, now)
	}

	conv, err := db.Conversation(ctx, first)
	if err != nil || conv.Title != "Mom" {
		t.Errorf("Conversation() = %+v, %v", conv, err)
	}

	if _, err := db.Conversation(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("Conversation(missing) error = %v", err)
	}
	if err := db.AddMessage(ctx, "missing", msgs[0]); !errors.Is(err, services.ErrNotFound) {
		t.Errorf("AddMessage(missing) error = %v", err)
	}
}

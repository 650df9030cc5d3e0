package postgresadapter

import (
	"sync"
	"testing"

	"gorm.io/gorm/schema"
)

// The one-vote rule is scoped per poll, so the unique index must pair
// poll_id with unique_key. An index on unique_key alone would block a voter
// across unrelated polls.
func TestVoteUniqueIndexScopedToPoll(t *testing.T) {
	parsed, err := schema.Parse(&voteModel{}, &sync.Map{}, schema.NamingStrategy{})
	if err != nil {
		t.Fatalf("parse vote model: %v", err)
	}

	var index *schema.Index
	for _, candidate := range parsed.ParseIndexes() {
		if candidate.Name == "idx_votes_poll_unique_key" {
			index = candidate
			break
		}
	}
	if index == nil {
		t.Fatalf("idx_votes_poll_unique_key not declared on voteModel")
	}
	if index.Class != "UNIQUE" {
		t.Fatalf("expected unique index, got class %q", index.Class)
	}

	fields := make([]string, 0, len(index.Fields))
	for _, field := range index.Fields {
		fields = append(fields, field.DBName)
	}
	if len(fields) != 2 || fields[0] != "poll_id" || fields[1] != "unique_key" {
		t.Fatalf("expected index on (poll_id, unique_key), got %v", fields)
	}
}

package db

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	if IsUniqueViolation(nil) {
		t.Fatalf("nil is not a unique violation")
	}
	if !IsUniqueViolation(gorm.ErrDuplicatedKey) {
		t.Fatalf("translated duplicate key must be recognized")
	}
	if !IsUniqueViolation(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)) {
		t.Fatalf("wrapped duplicate key must be recognized")
	}
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("raw postgres unique violation must be recognized")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("other constraint codes are not unique violations")
	}
	if IsUniqueViolation(fmt.Errorf("boom")) {
		t.Fatalf("arbitrary errors are not unique violations")
	}
}

func TestIsNoRows(t *testing.T) {
	t.Parallel()

	if !IsNoRows(ErrNoRows) {
		t.Fatalf("sentinel must match itself")
	}
	if !IsNoRows(fmt.Errorf("lookup: %w", ErrNoRows)) {
		t.Fatalf("wrapped sentinel must match")
	}
	if IsNoRows(fmt.Errorf("boom")) {
		t.Fatalf("arbitrary errors are not no-rows")
	}
}

func TestMarshalLangMap(t *testing.T) {
	t.Parallel()

	raw, err := marshalLangMap(nil)
	if err != nil {
		t.Fatalf("marshal nil map: %v", err)
	}
	if string(raw) != "{}" {
		t.Fatalf("nil map must marshal to an empty object: %q", raw)
	}

	raw, err = marshalLangMap(map[string]string{"ar": "دمشق"})
	if err != nil {
		t.Fatalf("marshal map: %v", err)
	}
	values, err := unmarshalLangMap(raw)
	if err != nil {
		t.Fatalf("unmarshal map: %v", err)
	}
	if values["ar"] != "دمشق" {
		t.Fatalf("unexpected roundtrip value: %+v", values)
	}

	if values, err := unmarshalLangMap(nil); err != nil || values == nil {
		t.Fatalf("empty column must decode to an empty map: %+v, %v", values, err)
	}
}

func TestNullableReason(t *testing.T) {
	t.Parallel()

	if nullableReason("   ") != nil {
		t.Fatalf("blank reasons store as NULL")
	}
	if got := nullableReason(" failed "); got == nil || *got != "failed" {
		t.Fatalf("reasons must be trimmed: %+v", got)
	}
	long := strings.Repeat("x", 3000)
	if got := nullableReason(long); got == nil || len(*got) != 2000 {
		t.Fatalf("reasons are capped at 2000 bytes")
	}
	arabic := strings.Repeat("قصف جوي ", 400)
	got := nullableReason(arabic)
	if got == nil {
		t.Fatalf("non-blank reasons must be stored")
	}
	if len(*got) > 2000 {
		t.Fatalf("multi-byte reasons must stay within the cap: %d bytes", len(*got))
	}
	if !utf8.ValidString(*got) {
		t.Fatalf("the cap must never split a rune: %q", (*got)[len(*got)-8:])
	}
}

package qdrant

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aschepis/backscratcher/mnemo/memory"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestPayloadRoundTrip(t *testing.T) {
	rec := memory.Record{
		PointID:    "6f1c7a0e-8d0b-4b59-9a34-0d1f5f4f6c11",
		OwnerID:    "u1",
		Text:       "User lives in Osaka",
		Categories: []string{"location", "home"},
		CreatedAt:  "2026-10-16 09:30",
	}
	payload := buildPayload(rec, 42)
	if payload[fieldInsertedAt].GetIntegerValue() != 42 {
		t.Fatalf("inserted_at not stored")
	}
	got := recordFromPayload(rec.PointID, payload)
	if got.OwnerID != rec.OwnerID || got.Text != rec.Text || got.CreatedAt != rec.CreatedAt {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Categories) != 2 || got.Categories[0] != "location" || got.Categories[1] != "home" {
		t.Fatalf("categories mismatch: %v", got.Categories)
	}
}

func TestBuildFilter(t *testing.T) {
	f := buildFilter("u1", nil)
	if len(f.GetMust()) != 1 {
		t.Fatalf("expected owner-only filter, got %d conditions", len(f.GetMust()))
	}
	owner := f.GetMust()[0].GetField()
	if owner.GetKey() != fieldOwner || owner.GetMatch().GetKeyword() != "u1" {
		t.Fatalf("unexpected owner condition %v", owner)
	}

	f = buildFilter("u1", []string{"food", "travel"})
	if len(f.GetMust()) != 2 {
		t.Fatalf("expected owner and category conditions, got %d", len(f.GetMust()))
	}
	cats := f.GetMust()[1].GetField()
	if cats.GetKey() != fieldCategories {
		t.Fatalf("unexpected category key %q", cats.GetKey())
	}
	if got := cats.GetMatch().GetKeywords().GetStrings(); len(got) != 2 || got[0] != "food" {
		t.Fatalf("unexpected keywords %v", got)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err         error
		unavailable bool
	}{
		{status.Error(codes.Unavailable, "connection refused"), true},
		{status.Error(codes.DeadlineExceeded, "slow"), true},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
		{status.Error(codes.InvalidArgument, "bad vector"), false},
		{status.Error(codes.NotFound, "no collection"), false},
	}
	for _, tc := range cases {
		err := classify("query", tc.err)
		if got := errors.Is(err, memory.ErrStorageUnavailable); got != tc.unavailable {
			t.Errorf("classify(%v): unavailable=%v, want %v", tc.err, got, tc.unavailable)
		}
	}
	if classify("query", nil) != nil {
		t.Fatalf("classify(nil) should be nil")
	}
}

package main

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestParseTargetLines(t *testing.T) {
	campaignID := uuid.New()
	input := "123456789\n\n@maria_v\nivan_k\n  987654  \n"

	targets, err := parseTargetLines(campaignID, strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(targets) != 4 {
		t.Fatalf("got %d targets, want 4", len(targets))
	}

	if targets[0].PeerID != 123456789 || targets[0].Username != "" {
		t.Fatalf("first target = %d %q, want peer id 123456789", targets[0].PeerID, targets[0].Username)
	}
	if targets[1].Username != "maria_v" || targets[1].PeerID != 0 {
		t.Fatalf("second target = %d %q, want username maria_v without the @", targets[1].PeerID, targets[1].Username)
	}
	if targets[2].Username != "ivan_k" {
		t.Fatalf("third target username = %q, want ivan_k", targets[2].Username)
	}
	if targets[3].PeerID != 987654 {
		t.Fatalf("fourth target peer id = %d, want 987654", targets[3].PeerID)
	}
	for i, target := range targets {
		if target.CampaignID != campaignID {
			t.Fatalf("target %d campaign = %s, want %s", i, target.CampaignID, campaignID)
		}
	}
}

func TestParseTargetLinesRejectsOutOfRangeIDs(t *testing.T) {
	_, err := parseTargetLines(uuid.New(), strings.NewReader("99999999999999999999999\n"))
	if err == nil {
		t.Fatal("expected an out of range error")
	}
}

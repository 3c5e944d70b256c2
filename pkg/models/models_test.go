package models

import (
	"errors"
	"testing"
	"time"
)

func TestRetentionLadder(t *testing.T) {
	cases := map[string]time.Duration{
		"5min":  5 * time.Minute,
		"15min": 15 * time.Minute,
		"30min": 30 * time.Minute,
		"1hr":   time.Hour,
		"6hr":   6 * time.Hour,
		"24hr":  24 * time.Hour,
	}
	for token, want := range cases {
		t.Run(token, func(t *testing.T) {
			got, err := RetentionDuration(token)
			if err != nil {
				t.Fatalf("RetentionDuration(%q): %v", token, err)
			}
			if got != want {
				t.Errorf("duration = %s, want %s", got, want)
			}
			if !ValidRetention(token) {
				t.Errorf("ValidRetention(%q) = false", token)
			}
		})
	}

	t.Run("unknown token", func(t *testing.T) {
		for _, token := range []string{"", "2hr", "forever", "1h"} {
			if _, err := RetentionDuration(token); !errors.Is(err, ErrInvalidRetention) {
				t.Errorf("RetentionDuration(%q) err = %v, want ErrInvalidRetention", token, err)
			}
			if ValidRetention(token) {
				t.Errorf("ValidRetention(%q) = true", token)
			}
		}
	})
}

func TestClipHasPassword(t *testing.T) {
	t.Run("nil hash", func(t *testing.T) {
		c := &Clip{}
		if c.HasPassword() {
			t.Error("clip without password hash reports a password")
		}
	})

	t.Run("sentinel", func(t *testing.T) {
		sentinel := PasswordSentinel
		c := &Clip{PasswordHash: &sentinel}
		if !c.HasPassword() {
			t.Error("sentinel hash should report a password")
		}
	})

	t.Run("unknown historic sentinel still protects", func(t *testing.T) {
		legacy := "some-older-marker"
		c := &Clip{PasswordHash: &legacy}
		if !c.HasPassword() {
			t.Error("any non-NULL hash must report a password")
		}
	})
}

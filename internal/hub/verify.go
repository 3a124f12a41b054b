package hub

import (
	"bytes"
	"context"
	"crypto/rand"
	"net/url"

	"github.com/pushhub/pushhub/internal/netutil"
)

const challengeLen = 128

const challengeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// newChallenge returns a random 128-character alphanumeric token.
// Bytes outside the largest multiple of the alphabet size are rejected
// so every character is equally likely.
func newChallenge() string {
	const limit = 256 - 256%len(challengeAlphabet)
	out := make([]byte, 0, challengeLen)
	buf := make([]byte, challengeLen)
	for len(out) < challengeLen {
		if _, err := rand.Read(buf); err != nil {
			panic("hub: crypto/rand unavailable: " + err.Error())
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, challengeAlphabet[int(b)%len(challengeAlphabet)])
			if len(out) == challengeLen {
				break
			}
		}
	}
	return string(out)
}

// verifyIntent confirms a subscription request with the callback
// endpoint. The callback is fetched with the mode, topic, and a fresh
// challenge in the query string; intent is verified only by a 200
// response that echoes the challenge somewhere in its body. Unreachable
// or uncooperative callbacks verify as false without error.
func verifyIntent(ctx context.Context, client netutil.Client, mode, topicURL, callbackURL string) bool {
	challenge := newChallenge()
	target, err := appendQuery(callbackURL, url.Values{
		"hub.mode":      {mode},
		"hub.topic":     {topicURL},
		"hub.challenge": {challenge},
	})
	if err != nil {
		return false
	}

	resp, err := client.Get(ctx, target, nil)
	if err != nil {
		return false
	}
	if resp.StatusCode != 200 {
		return false
	}
	return bytes.Contains(resp.Body, []byte(challenge))
}

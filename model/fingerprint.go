package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// AgentConfig is the behavior-defining configuration of an agent under
// test: its instructions and the tools it exposes. Everything else
// (provider, temperature, transport) is deliberately excluded.
type AgentConfig struct {
	Instructions string
	Tools        []mcp.Tool
}

// Fingerprint computes a content hash over the agent configuration.
// Whitespace differences in the instructions do not change the hash; any
// change to the instruction text or the tool identifier set does. The
// hash is used for equality only and is never reversed.
func Fingerprint(cfg AgentConfig) string {
	names := make([]string, 0, len(cfg.Tools))
	for _, t := range cfg.Tools {
		names = append(names, t.Name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(normalizeWhitespace(cfg.Instructions)))
	for _, name := range names {
		h.Write([]byte{0})
		h.Write([]byte(name))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

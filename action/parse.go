package action

import (
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/agentherd/core"
)

// kindNames maps grammar spellings to kinds.
var kindNames = map[string]Kind{
	"SPAWN":       KindSpawn,
	"BROADCAST":   KindBroadcast,
	"MESSAGE":     KindMessage,
	"WAIT":        KindWait,
	"LIST_AGENTS": KindListAgents,
	"PRINT":       KindPrint,
	"TERMINATE":   KindTerminate,
	"TOOL":        KindTool,
}

// Parse extracts action tokens from free-form Decision Engine output in the
// order they appear. Bracketed segments whose leading word is not an
// all-caps identifier are treated as prose and ignored; an all-caps leading
// word that is not a known kind, or a known kind with a malformed payload,
// yields a core.ParseError. Errors never abort the scan.
func Parse(text string) ([]Token, []*core.ParseError) {
	var (
		tokens []Token
		errs   []*core.ParseError
	)
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		end := strings.IndexByte(text[i+1:], ']')
		if end < 0 {
			break
		}
		raw := text[i : i+end+2]
		body := text[i+1 : i+1+end]
		i += end + 1

		tok, perr, isAction := parseBody(raw, body)
		if !isAction {
			continue
		}
		if perr != nil {
			errs = append(errs, perr)
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens, errs
}

// parseBody interprets the inside of one bracketed segment. The third return
// is false when the segment is prose rather than an action attempt.
func parseBody(raw, body string) (Token, *core.ParseError, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Token{}, nil, false
	}

	// The kind is the leading run of letters and underscores. The grammar
	// also allows an inline recipient ([MESSAGE agent-7: hi]), so a space may
	// follow the kind before the colon.
	head := body
	rest := ""
	if idx := strings.IndexByte(body, ':'); idx >= 0 {
		head = strings.TrimSpace(body[:idx])
		rest = strings.TrimSpace(body[idx+1:])
	}

	word := head
	inline := ""
	if idx := strings.IndexAny(head, " \t"); idx >= 0 {
		word = head[:idx]
		inline = strings.TrimSpace(head[idx:])
	}
	if !isUpperIdent(word) {
		return Token{}, nil, false
	}
	kind, ok := kindNames[word]
	if !ok {
		return Token{}, &core.ParseError{Token: raw, Reason: "unrecognized kind " + word}, true
	}

	tok := Token{Kind: kind, Raw: raw}
	switch kind {
	case KindSpawn:
		if rest == "" {
			return Token{}, &core.ParseError{Token: raw, Reason: "missing mission"}, true
		}
		tok.Mission = rest
	case KindBroadcast, KindPrint:
		if rest == "" {
			return Token{}, &core.ParseError{Token: raw, Reason: "missing text"}, true
		}
		tok.Text = rest
	case KindMessage:
		to, text, ok := splitMessage(inline, rest)
		if !ok {
			return Token{}, &core.ParseError{Token: raw, Reason: "missing recipient"}, true
		}
		tok.To, tok.Text = to, text
	case KindWait:
		d, perr := parseWait(raw, rest)
		if perr != nil {
			return Token{}, perr, true
		}
		tok.Duration = d
	case KindListAgents:
		// no payload
	case KindTerminate:
		tok.Reason = rest
	case KindTool:
		name, args, ok := splitTool(rest)
		if !ok {
			return Token{}, &core.ParseError{Token: raw, Reason: "expected name(args)"}, true
		}
		tok.Name, tok.Args = name, args
	}
	return tok, nil, true
}

// splitMessage resolves the recipient from either the inline form
// "MESSAGE agent-7: text" or the payload form "agent-7 | text".
func splitMessage(inline, rest string) (to, text string, ok bool) {
	if inline != "" {
		return inline, rest, true
	}
	idx := strings.IndexByte(rest, '|')
	if idx < 0 {
		return "", "", false
	}
	to = strings.TrimSpace(rest[:idx])
	text = strings.TrimSpace(rest[idx+1:])
	if to == "" {
		return "", "", false
	}
	return to, text, true
}

// parseWait accepts plain seconds ("2") or a Go duration string ("1500ms").
// An empty payload defers to the configured default.
func parseWait(raw, rest string) (time.Duration, *core.ParseError) {
	if rest == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(rest); err == nil {
		if secs < 0 {
			return 0, &core.ParseError{Token: raw, Reason: "negative wait"}
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(rest)
	if err != nil || d < 0 {
		return 0, &core.ParseError{Token: raw, Reason: "unparseable duration " + strconv.Quote(rest)}
	}
	return d, nil
}

// splitTool parses "name(args)". Args keep their raw spelling; argument
// conventions are the tool's own business.
func splitTool(rest string) (name, args string, ok bool) {
	open := strings.IndexByte(rest, '(')
	if open <= 0 || !strings.HasSuffix(rest, ")") {
		return "", "", false
	}
	name = strings.TrimSpace(rest[:open])
	args = strings.TrimSpace(rest[open+1 : len(rest)-1])
	if name == "" {
		return "", "", false
	}
	return name, args, true
}

func isUpperIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && c != '_' {
			return false
		}
	}
	return true
}

package irc

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/lrstanley/girc"
)

// IRCv3 draft/multiline support: inbound batches are reassembled into one
// message, outbound replies keep their line structure.
const (
	capMultiline = "draft/multiline"
	tagConcat    = "draft/multiline-concat"
	tagBatch     = "batch"
	cmdBATCH     = "BATCH"
	cmdFAIL      = "FAIL"
)

// multilineCaps holds the server-advertised limits; zero means unknown.
type multilineCaps struct {
	maxBytes int
	maxLines int
}

// batchLine is one PRIVMSG of a batch. A concat line continues the
// previous line without a newline.
type batchLine struct {
	text   string
	concat bool
}

type openBatch struct {
	target string
	source *girc.Source
	lines  []batchLine
}

// batchTracker collects inbound multiline batches by reference tag.
type batchTracker struct {
	mu   sync.Mutex
	open map[string]*openBatch
}

func newBatchTracker() *batchTracker {
	return &batchTracker{open: make(map[string]*openBatch)}
}

// start opens a batch; batches of other types are ignored.
func (bt *batchTracker) start(id, kind, target string, source *girc.Source) bool {
	if kind != capMultiline {
		return false
	}
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.open[id] = &openBatch{target: target, source: source}
	return true
}

func (bt *batchTracker) add(id, text string, concat bool) bool {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	b, ok := bt.open[id]
	if ok {
		b.lines = append(b.lines, batchLine{text: text, concat: concat})
	}
	return ok
}

func (bt *batchTracker) has(id string) bool {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	_, ok := bt.open[id]
	return ok
}

// end closes a batch and returns its reassembled body.
func (bt *batchTracker) end(id string) (target string, source *girc.Source, body string, ok bool) {
	bt.mu.Lock()
	b, ok := bt.open[id]
	delete(bt.open, id)
	bt.mu.Unlock()
	if !ok {
		return "", nil, "", false
	}
	return b.target, b.source, assemble(b.lines), true
}

func assemble(lines []batchLine) string {
	var sb strings.Builder
	for i, l := range lines {
		if i > 0 && !l.concat {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.text)
	}
	return sb.String()
}

// planBatches lays text out as batches within caps. Lines over
// MaxLineBytes continue with concat lines; blank lines are dropped.
func planBatches(text string, caps multilineCaps) [][]batchLine {
	var (
		batches [][]batchLine
		cur     []batchLine
		size    int
	)
	for _, line := range strings.Split(text, "\n") {
		for i, piece := range cutBytes(line, MaxLineBytes) {
			n := len(piece)
			if len(cur) > 0 {
				n++
			}
			full := caps.maxLines > 0 && len(cur) >= caps.maxLines
			if caps.maxBytes > 0 && size+n > caps.maxBytes {
				full = true
			}
			if full && len(cur) > 0 {
				batches = append(batches, cur)
				cur, size, n = nil, 0, len(piece)
			}
			cur = append(cur, batchLine{text: piece, concat: i > 0 && len(cur) > 0})
			size += n
		}
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// cutBytes splits s into rune-aligned pieces of at most max bytes,
// keeping every byte.
func cutBytes(s string, max int) []string {
	var out []string
	for len(s) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(s)
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func sendBatch(client *girc.Client, target string, lines []batchLine) {
	id := batchID()
	client.Send(&girc.Event{Command: cmdBATCH, Params: []string{"+" + id, capMultiline, target}})
	for _, l := range lines {
		tags := girc.Tags{tagBatch: id}
		if l.concat {
			tags[tagConcat] = ""
		}
		client.Send(&girc.Event{Command: girc.PRIVMSG, Params: []string{target, l.text}, Tags: tags})
	}
	client.Send(&girc.Event{Command: cmdBATCH, Params: []string{"-" + id}})
}

func batchID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// parseBatchStart parses "BATCH +<id> <type> [target]".
func parseBatchStart(e girc.Event) (id, kind, target string, ok bool) {
	if len(e.Params) < 2 || len(e.Params[0]) < 2 || e.Params[0][0] != '+' {
		return "", "", "", false
	}
	if len(e.Params) > 2 {
		target = e.Params[2]
	}
	return e.Params[0][1:], e.Params[1], target, true
}

// parseBatchEnd parses "BATCH -<id>".
func parseBatchEnd(e girc.Event) (string, bool) {
	if len(e.Params) < 1 || len(e.Params[0]) < 2 || e.Params[0][0] != '-' {
		return "", false
	}
	return e.Params[0][1:], true
}

func batchRef(e girc.Event) (string, bool) {
	if e.Tags == nil {
		return "", false
	}
	id, ok := e.Tags.Get(tagBatch)
	return id, ok && id != ""
}

func hasConcat(e girc.Event) bool {
	if e.Tags == nil {
		return false
	}
	_, ok := e.Tags[tagConcat]
	return ok
}

// capsFromLS finds draft/multiline in a CAP LS list, e.g.
// "sasl draft/multiline=max-bytes=4096,max-lines=24".
func capsFromLS(list string) (multilineCaps, bool) {
	for _, field := range strings.Fields(list) {
		name, value, _ := strings.Cut(field, "=")
		if name != capMultiline {
			continue
		}
		var caps multilineCaps
		for _, kv := range strings.Split(value, ",") {
			k, v, _ := strings.Cut(kv, "=")
			switch k {
			case "max-bytes":
				caps.maxBytes, _ = strconv.Atoi(v)
			case "max-lines":
				caps.maxLines, _ = strconv.Atoi(v)
			}
		}
		return caps, true
	}
	return multilineCaps{}, false
}

// multilineFailure reports the code of a "FAIL BATCH MULTILINE_*" reply.
func multilineFailure(e girc.Event) (string, bool) {
	if e.Command != cmdFAIL || len(e.Params) < 2 || e.Params[0] != cmdBATCH {
		return "", false
	}
	if code := e.Params[1]; strings.HasPrefix(code, "MULTILINE_") {
		return code, true
	}
	return "", false
}

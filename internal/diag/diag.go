// Package diag collects forensic material from a sync run: raw HTTP
// responses the portal should not have sent, XML that failed to parse,
// and documents that yielded no lines. One Context is built per run and
// threaded through the pipeline; it is read-only after construction.
package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/storesace-cv/bwb-efatura-docs/internal/logger"
)

// Context is the per-run diagnostics area under the log directory.
type Context struct {
	// RunID identifies this run in dump filenames and the summary.
	RunID string

	// BadResponseDir receives HTTP response dumps.
	BadResponseDir string

	// NoLinesDir receives raw XML of documents that produced no rows.
	NoLinesDir string
}

// NewContext creates the diagnostics directories under logDir.
func NewContext(logDir string) (*Context, error) {
	c := &Context{
		RunID:          uuid.New().String(),
		BadResponseDir: filepath.Join(logDir, "bad_responses"),
		NoLinesDir:     filepath.Join(logDir, "no_lines"),
	}
	for _, dir := range []string{c.BadResponseDir, c.NoLinesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create diagnostics dir: %w", err)
		}
	}
	return c, nil
}

// HTTPDump describes a problematic HTTP exchange to be written to disk.
type HTTPDump struct {
	URL         string
	Status      int
	ContentType string
	Note        string
	Headers     map[string][]string
	Body        []byte
}

// DumpResponse writes the metadata, raw body and a text preview of a bad
// HTTP response, keyed by UID and failure stage. Dump failures are logged
// and swallowed: diagnostics must never break the run.
func (c *Context) DumpResponse(uid, stage string, d HTTPDump) {
	if c == nil {
		return
	}
	ts := time.Now().Format("20060102_150405")
	base := filepath.Join(c.BadResponseDir, fmt.Sprintf("%s.%s.%s", uid, stage, ts))

	meta := fmt.Sprintf("run=%s\nurl=%s\nstatus=%d\ncontent-type=%s\nnote=%s\nheaders:\n",
		c.RunID, d.URL, d.Status, d.ContentType, d.Note)
	for k, vs := range d.Headers {
		for _, v := range vs {
			meta += fmt.Sprintf("  %s: %s\n", k, v)
		}
	}
	c.write(base+".meta.txt", []byte(meta))
	c.write(base+".body.bin", d.Body)

	preview := d.Body
	if len(preview) > 5000 {
		preview = preview[:5000]
	}
	c.write(base+".body.txt", preview)
	logger.Debug("dumped HTTP response uid=%s stage=%s -> %s.*", uid, stage, base)
}

// DumpXML writes document XML that failed to parse or produced no lines.
func (c *Context) DumpXML(dir, uid, stage, xml string) {
	if c == nil {
		return
	}
	c.write(filepath.Join(dir, fmt.Sprintf("%s.%s.xml", uid, stage)), []byte(xml))
}

// DumpBadXML writes XML that could not be parsed.
func (c *Context) DumpBadXML(uid, stage, xml string) {
	if c == nil {
		return
	}
	c.DumpXML(c.BadResponseDir, uid, stage, xml)
}

// DumpNoLines writes the XML of a document that yielded no rows.
func (c *Context) DumpNoLines(uid, xml string) {
	if c == nil {
		return
	}
	c.DumpXML(c.NoLinesDir, uid, "no-lines", xml)
}

func (c *Context) write(path string, data []byte) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Warn("failed to write diagnostics file %s: %v", path, err)
	}
}

package policy

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// snapshot is one fully-formed rule set. Readers always observe a
// complete snapshot; reloads swap the pointer, never mutate in place.
type snapshot struct {
	rules         []Rule
	denyByDefault bool
	modTime       time.Time
	generation    uint64
}

// Engine evaluates policy decisions against the current snapshot of the
// backing document. The document is re-read only when its modification
// timestamp changes.
type Engine struct {
	path string

	reloadMu sync.Mutex
	snap     atomic.Pointer[snapshot]
}

// NewEngine loads the policy document at path. A missing file fails
// closed: deny-by-default with an empty rule set. A malformed document
// is a configuration error and refuses to start.
func NewEngine(path string) (*Engine, error) {
	e := &Engine{path: path}
	if err := e.reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Decide evaluates a (tool, action, resource) triple. Rules are scanned
// in document order and the first match wins. The returned error is
// always a configuration problem with the backing document, never a
// policy outcome.
func (e *Engine) Decide(tool, action, resource string) (Decision, error) {
	if err := e.reload(); err != nil {
		return Decision{}, err
	}
	snap := e.snap.Load()

	for _, rule := range snap.rules {
		if rule.Tool != tool {
			continue
		}
		if !matchAny(rule.Actions, action) {
			continue
		}
		if !match(rule.Resource, resource) {
			continue
		}

		if !rule.Allow {
			return Decision{Allowed: false, ApprovalRequired: false, Risk: rule.Risk, Message: "policy denies action"}, nil
		}

		approvalRequired := RequiresApproval(rule.Risk)
		if rule.ApprovalRequired != nil {
			approvalRequired = *rule.ApprovalRequired
		}
		return Decision{Allowed: true, ApprovalRequired: approvalRequired, Risk: rule.Risk, Message: "policy allows action"}, nil
	}

	if snap.denyByDefault {
		return Decision{Allowed: false, ApprovalRequired: false, Risk: RiskUnknown, Message: "no matching allow rule"}, nil
	}
	return Decision{Allowed: true, ApprovalRequired: false, Risk: RiskLow, Message: "default allow"}, nil
}

// Generation returns the monotonic snapshot generation, incremented on
// every effective reload.
func (e *Engine) Generation() uint64 {
	return e.snap.Load().generation
}

func (e *Engine) reload() error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	current := e.snap.Load()

	info, err := os.Stat(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Fail closed when the document is absent.
			if current == nil || len(current.rules) > 0 || !current.denyByDefault {
				e.swap(snapshot{denyByDefault: true})
			}
			return nil
		}
		return fmt.Errorf("stat policy document: %w", err)
	}

	if current != nil && info.ModTime().Equal(current.modTime) {
		return nil
	}

	doc, err := LoadDocument(e.path)
	if err != nil {
		return err
	}

	e.swap(snapshot{
		rules:         doc.Rules,
		denyByDefault: doc.Defaults.DenyByDefault,
		modTime:       info.ModTime(),
	})
	return nil
}

func (e *Engine) swap(next snapshot) {
	if current := e.snap.Load(); current != nil {
		next.generation = current.generation + 1
	}
	e.snap.Store(&next)
}

// LoadDocument parses and validates a policy document.
func LoadDocument(path string) (*Document, error) {
	doc, err := ParseDocument(path)
	if err != nil {
		return nil, err
	}
	if problems := Validate(doc); len(problems) > 0 {
		return nil, fmt.Errorf("invalid policy document %s: %s", path, problems[0])
	}
	return doc, nil
}

// ParseDocument reads and decodes a policy document without validating
// it, so tooling can report every problem instead of the first.
func ParseDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy document: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse policy document %s: %w", path, err)
	}
	return &doc, nil
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if match(pattern, name) {
			return true
		}
	}
	return false
}

func match(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	if err != nil {
		// Patterns are validated at load time.
		return false
	}
	return ok
}

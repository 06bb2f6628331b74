package weft

import (
	"fmt"
	"sort"

	"github.com/blang/semver/v4"
	json "github.com/goccy/go-json"
	"golang.org/x/net/html"
)

// Snapshot is the server-state payload: a vocabulary version plus one plain
// state tree per namespace.
type Snapshot struct {
	Version    string                    `json:"version"`
	Namespaces map[string]map[string]any `json:"state"`
}

// seedFromDocument consumes the page's embedded snapshot block, if any.
// The block is read exactly once per engine; Reset re-arms it.
func (e *Engine) seedFromDocument() error {
	if e.seeded {
		return nil
	}
	e.seeded = true

	node := Find(e.doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "script" &&
			AttrValue(n, "type") == "application/json" && HasAttr(n, "data-server-state")
	})
	if node == nil {
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(TextOf(node)), &snap); err != nil {
		err = fmt.Errorf("server state block: %w", err)
		e.reportError("seed", err)
		return err
	}
	if err := e.Merge(&snap); err != nil {
		return err
	}
	e.logger.Debug("seeded server state", "namespaces", len(snap.Namespaces))
	return nil
}

// Merge re-syncs server state into registered namespaces through the normal
// write path, so every touched key invalidates its readers and the next
// flush re-renders them in one batch. Unknown namespaces warn and skip.
func (e *Engine) Merge(snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	if err := e.checkSnapshotVersion(snap.Version); err != nil {
		e.reportError("merge", err)
		return err
	}

	names := make([]string, 0, len(snap.Namespaces))
	for name := range snap.Namespaces {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ns, ok := e.store.lookup(name)
		if !ok {
			e.logger.Warn("snapshot names unregistered namespace, skipped", "ns", name)
			continue
		}
		tree := snap.Namespaces[name]
		keys := make([]string, 0, len(tree))
		for k := range tree {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := e.store.writeState(ns, []string{k}, tree[k]); err != nil {
				e.reportError("merge "+name+"."+k, err)
			}
		}
	}
	return nil
}

func (e *Engine) checkSnapshotVersion(v string) error {
	sv, err := semver.Parse(v)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrSnapshotVersion, v, err)
	}
	if sv.Major != Version.Major {
		return fmt.Errorf("%w: snapshot %s, engine %s", ErrSnapshotVersion, sv, Version)
	}
	if sv.GT(Version) {
		e.logger.Warn("snapshot from newer engine, merging anyway",
			"snapshot", sv.String(), "engine", Version.String())
	}
	return nil
}

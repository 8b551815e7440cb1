package container

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mdkit/trajio/errs"
	ienc "github.com/mdkit/trajio/internal/encoding"
)

// SetAttr stores a string attribute on the group, overwriting any previous
// value. Dataset-scoped attributes use "dataset@name" keys.
func (g *Group) SetAttr(name, value string) error {
	if g.c.readOnly {
		return errs.ErrReadOnly
	}

	attrs, err := g.readAttrs()
	if err != nil {
		return err
	}
	attrs[name] = value

	return g.writeAttrs(attrs)
}

// Attr returns a string attribute, or ErrNotFound.
func (g *Group) Attr(name string) (string, error) {
	attrs, err := g.readAttrs()
	if err != nil {
		return "", err
	}
	v, ok := attrs[name]
	if !ok {
		return "", fmt.Errorf("attribute %q on %s: %w", name, g.Path(), errs.ErrNotFound)
	}

	return v, nil
}

func (g *Group) attrsPath() string {
	return filepath.Join(g.dir(), attrsName)
}

func (g *Group) readAttrs() (map[string]string, error) {
	attrs := make(map[string]string)
	data, err := os.ReadFile(g.attrsPath())
	if os.IsNotExist(err) {
		return attrs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading attributes of %s: %w", g.Path(), err)
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("attribute table of %s truncated", g.Path())
	}

	count := int(engine.Uint32(data[:4]))
	offset := 4
	for i := 0; i < count; i++ {
		var key, value string
		if key, offset, err = ienc.ReadString(engine, data, offset); err != nil {
			return nil, fmt.Errorf("attribute table of %s: %w", g.Path(), err)
		}
		if value, offset, err = ienc.ReadString(engine, data, offset); err != nil {
			return nil, fmt.Errorf("attribute table of %s: %w", g.Path(), err)
		}
		attrs[key] = value
	}

	return attrs, nil
}

// writeAttrs rewrites the whole table. Keys are sorted so the encoding is
// deterministic.
func (g *Group) writeAttrs(attrs map[string]string) error {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := engine.AppendUint32(nil, uint32(len(keys)))
	var err error
	for _, k := range keys {
		if buf, err = ienc.AppendString(engine, buf, k); err != nil {
			return err
		}
		if buf, err = ienc.AppendString(engine, buf, attrs[k]); err != nil {
			return err
		}
	}

	return os.WriteFile(g.attrsPath(), buf, 0o644)
}

package container

import (
	"os"
	"path"
	"sort"
	"strings"
)

// MemberKind classifies one entry of a group.
type MemberKind uint8

const (
	KindGroup MemberKind = iota + 1
	KindDataset
	KindFixed
	KindLog
)

// Member is one named entry of a group.
type Member struct {
	Name string
	Kind MemberKind
}

// Members lists the group's sub-groups and datasets in name order.
func (g *Group) Members() ([]Member, error) {
	entries, err := os.ReadDir(g.dir())
	if err != nil {
		return nil, err
	}

	var members []Member
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
			members = append(members, Member{Name: name, Kind: KindGroup})
		case strings.HasSuffix(name, ".meta"):
			members = append(members, Member{Name: strings.TrimSuffix(name, ".meta"), Kind: KindDataset})
		case strings.HasSuffix(name, ".fix"):
			members = append(members, Member{Name: strings.TrimSuffix(name, ".fix"), Kind: KindFixed})
		case strings.HasSuffix(name, ".log"):
			members = append(members, Member{Name: strings.TrimSuffix(name, ".log"), Kind: KindLog})
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })

	return members, nil
}

// Child returns the sub-group of the given name without checking existence.
func (g *Group) Child(name string) *Group {
	p := name
	if g.path != "" {
		p = g.path + "/" + name
	}

	return &Group{c: g.c, path: p}
}

// WalkFunc is invoked for every group encountered during a depth-first walk,
// parents before children. Returning an error stops the walk.
type WalkFunc func(groupPath string, g *Group) error

// Walk traverses the hierarchy rooted at g depth-first, calling fn for each
// group including g itself.
func Walk(g *Group, fn WalkFunc) error {
	if err := fn(g.Path(), g); err != nil {
		return err
	}

	members, err := g.Members()
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.Kind != KindGroup {
			continue
		}
		if err := Walk(g.Child(m.Name), fn); err != nil {
			return err
		}
	}

	return nil
}

// JoinPath joins container path components with slashes.
func JoinPath(parts ...string) string {
	return path.Join(parts...)
}

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalDirTransport serves destinations of kind "localdir": artifacts are
// plain files under the destination's root directory.
type LocalDirTransport struct{}

// resolve joins path against the destination root and rejects anything that
// would escape it.
func (LocalDirTransport) resolve(dest Destination, path string) (string, error) {
	if strings.TrimSpace(dest.Root) == "" {
		return "", fmt.Errorf("destination %s has no root", dest.ID)
	}
	full := filepath.Join(dest.Root, filepath.FromSlash(path))
	rel, err := filepath.Rel(dest.Root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes destination %s", path, dest.ID)
	}
	return full, nil
}

func (t LocalDirTransport) Delete(ctx context.Context, path string, dest Destination) error {
	_ = ctx
	full, err := t.resolve(dest, path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

func (t LocalDirTransport) List(ctx context.Context, prefix string, dest Destination) ([]Object, error) {
	_ = ctx
	dir := dest.Root
	base := ""
	if prefix != "" {
		full, err := t.resolve(dest, prefix)
		if err != nil {
			return nil, err
		}
		dir, base = filepath.Dir(full), filepath.Base(full)
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Object
	for _, ent := range ents {
		if ent.IsDir() || (base != "" && !strings.HasPrefix(ent.Name(), base)) {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		name, err := filepath.Rel(dest.Root, filepath.Join(dir, ent.Name()))
		if err != nil {
			continue
		}
		out = append(out, Object{
			Name:       filepath.ToSlash(name),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Copyright 2026 The Lodefs Authors
// SPDX-License-Identifier: Apache-2.0

package fusefs

import (
	"context"
	"sort"
	"strings"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/lodestore/lodefs/lib/fserror"
)

// dirNode is a directory: a shared prefix of object paths. The root
// has an empty prefix; every other directory's prefix ends in "/".
type dirNode struct {
	gofuse.Inode
	fsys   *filesystem
	prefix string
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeCreater = (*dirNode)(nil)
var _ gofuse.NodeUnlinker = (*dirNode)(nil)
var _ gofuse.NodeMkdirer = (*dirNode)(nil)
var _ gofuse.NodeRmdirer = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o755
	return 0
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	fullPath := d.prefix + name
	childPrefix := fullPath + "/"

	// A prefix with objects under it is a directory, and takes
	// precedence over a same-named object.
	children, err := d.fsys.client.List(ctx, childPrefix)
	if err != nil {
		d.fsys.logger.Error("listing prefix", "prefix", childPrefix, "error", err)
		return nil, fserror.Errno(err)
	}
	if len(children) > 0 || d.fsys.isMadeDir(childPrefix) {
		child := d.NewPersistentInode(ctx, &dirNode{
			fsys:   d.fsys,
			prefix: childPrefix,
		}, gofuse.StableAttr{Mode: syscall.S_IFDIR})
		out.Mode = syscall.S_IFDIR | 0o755
		return child, 0
	}

	status, exists, err := d.fsys.client.Status(ctx, fullPath)
	if err != nil {
		d.fsys.logger.Error("stat failed", "path", fullPath, "error", err)
		return nil, fserror.Errno(err)
	}
	if !exists {
		return nil, syscall.ENOENT
	}

	node := &fileNode{fsys: d.fsys, path: fullPath}
	child := d.NewPersistentInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG})
	out.Mode = syscall.S_IFREG | (status.Mode & 0o7777)
	out.Size = status.Length
	return child, 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	objects, err := d.fsys.client.List(ctx, d.prefix)
	if err != nil {
		d.fsys.logger.Error("listing directory", "prefix", d.prefix, "error", err)
		return nil, fserror.Errno(err)
	}

	// Collapse object paths to their immediate child component.
	seen := make(map[string]bool)
	var entries []fuse.DirEntry
	for _, object := range objects {
		component, isDirectory := splitComponent(object.Path, d.prefix)
		if component == "" || seen[component] {
			continue
		}
		seen[component] = true

		mode := uint32(syscall.S_IFREG)
		if isDirectory {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: component, Mode: mode})
	}

	// Empty directories created by mkdir have no objects to collapse.
	for _, name := range d.fsys.madeDirsUnder(d.prefix) {
		if seen[name] {
			continue
		}
		seen[name] = true
		entries = append(entries, fuse.DirEntry{Name: name, Mode: syscall.S_IFDIR})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return &sliceDirStream{entries: entries}, 0
}

func (d *dirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	fullPath := d.prefix + name

	stream, err := d.fsys.openStream(ctx, fullPath, int(flags), mode&0o7777)
	if err != nil {
		d.fsys.logger.Warn("create failed", "path", fullPath, "error", err)
		return nil, nil, 0, fserror.Errno(err)
	}

	node := &fileNode{fsys: d.fsys, path: fullPath}
	child := d.NewPersistentInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG})

	status := stream.Stat()
	out.Mode = syscall.S_IFREG | (status.Mode & 0o7777)
	out.Size = status.Length

	return child, &writeHandle{stream: stream}, fuse.FOPEN_DIRECT_IO, 0
}

func (d *dirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	fullPath := d.prefix + name
	if err := d.fsys.client.Delete(ctx, fullPath); err != nil {
		return fserror.Errno(err)
	}
	return 0
}

func (d *dirNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	childPrefix := d.prefix + name + "/"
	d.fsys.rememberDir(childPrefix)

	child := d.NewPersistentInode(ctx, &dirNode{
		fsys:   d.fsys,
		prefix: childPrefix,
	}, gofuse.StableAttr{Mode: syscall.S_IFDIR})
	out.Mode = syscall.S_IFDIR | 0o755
	return child, 0
}

func (d *dirNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	childPrefix := d.prefix + name + "/"

	children, err := d.fsys.client.List(ctx, childPrefix)
	if err != nil {
		return fserror.Errno(err)
	}
	if len(children) > 0 {
		return syscall.ENOTEMPTY
	}
	if !d.fsys.isMadeDir(childPrefix) {
		return syscall.ENOENT
	}
	d.fsys.forgetDir(childPrefix)
	return 0
}

// splitComponent extracts the immediate child component of an object
// path relative to a directory prefix, and whether the component is
// itself a directory.
func splitComponent(objectPath, prefix string) (component string, isDirectory bool) {
	relative := strings.TrimPrefix(objectPath, prefix)
	if relative == "" || relative == objectPath && prefix != "" {
		return "", false
	}
	if slashIndex := strings.IndexByte(relative, '/'); slashIndex >= 0 {
		return relative[:slashIndex], true
	}
	return relative, false
}

// childComponent returns the immediate child name when dir is a
// remembered directory directly below prefix.
func childComponent(dir, prefix string) (string, bool) {
	relative := strings.TrimPrefix(dir, prefix)
	if relative == dir && prefix != "" {
		return "", false
	}
	relative = strings.TrimSuffix(relative, "/")
	if relative == "" || strings.ContainsRune(relative, '/') {
		return "", false
	}
	return relative, true
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}

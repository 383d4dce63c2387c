// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package vfs

import (
	"fmt"
	"strings"
)

// Directory is an inner node owning an ordered list of children.
type Directory struct {
	// parent is a non-owning back-reference.
	parent   *Directory
	name     string
	children []Node
}

// NewDirectory returns an empty detached directory. Roots may use an empty name.
func NewDirectory(name string) *Directory {
	return &Directory{name: name}
}

// Name returns directory name.
func (d *Directory) Name() string { return d.name }

// Parent returns containing directory.
func (d *Directory) Parent() *Directory { return d.parent }

// IsDir reports true.
func (d *Directory) IsDir() bool { return true }

// Path returns path from the tree root.
func (d *Directory) Path() string { return nodePath(d) }

// setParent updates the parent link.
func (d *Directory) setParent(parent *Directory) { d.parent = parent }

// Children returns a copy of the child list in insertion order.
func (d *Directory) Children() []Node {
	out := make([]Node, len(d.children))
	copy(out, d.children)

	return out
}

// Len returns number of direct children.
func (d *Directory) Len() int {
	return len(d.children)
}

// Child returns the direct child matching name case-insensitively.
func (d *Directory) Child(name string) Node {
	i := d.indexOf(name)
	if i < 0 {
		return nil
	}

	return d.children[i]
}

// indexOf returns child index by case-insensitive name or -1.
func (d *Directory) indexOf(name string) int {
	for i, c := range d.children {
		if strings.EqualFold(c.Name(), name) {
			return i
		}
	}

	return -1
}

// Find resolves a slash or backslash separated path below d.
func (d *Directory) Find(p string) (Node, error) {
	var cur Node = d
	for _, part := range splitPath(p) {
		dir, ok := cur.(*Directory)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}

		next := dir.Child(part)
		if next == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		cur = next
	}

	return cur, nil
}

// Add inserts node as a child of d, detaching it from any previous parent.
// A duplicate name never inserts: directories merge with mode and files
// overwrite the existing file content in place.
func (d *Directory) Add(node Node, mode MergeMode) error {
	if node == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidName)
	}
	if err := validName(node.Name()); err != nil {
		return err
	}
	if dir, ok := node.(*Directory); ok && dir.contains(d) {
		return fmt.Errorf("%w: %s cannot contain itself", ErrInvalidName, node.Name())
	}

	if existing := d.Child(node.Name()); existing != nil {
		if existing == node {
			return nil
		}

		return mergeInto(existing, node, mode)
	}

	detach(node)
	node.setParent(d)
	d.children = append(d.children, node)

	return nil
}

// Merge applies src children onto d.
//
// Matching directories recurse, matching files take src content. Non-matching
// nodes are inserted as shallow clones under Union and dropped under ReplaceOnly.
// src is left unchanged.
func (d *Directory) Merge(src *Directory, mode MergeMode) error {
	if src == nil || src == d {
		return nil
	}

	for _, child := range src.children {
		existing := d.Child(child.Name())
		if existing == nil {
			if mode != Union {
				continue
			}

			clone := child.clone()
			clone.setParent(d)
			d.children = append(d.children, clone)
			continue
		}

		if err := mergeInto(existing, child, mode); err != nil {
			return err
		}
	}

	return nil
}

// mergeInto merges src onto existing node of the same name.
func mergeInto(existing Node, src Node, mode MergeMode) error {
	switch dst := existing.(type) {
	case *Directory:
		srcDir, ok := src.(*Directory)
		if !ok {
			return fmt.Errorf("%w: %s", ErrTypeConflict, existing.Path())
		}

		return dst.Merge(srcDir, mode)
	case *File:
		srcFile, ok := src.(*File)
		if !ok {
			return fmt.Errorf("%w: %s", ErrTypeConflict, existing.Path())
		}

		dst.assign(srcFile)
		return nil
	default:
		return fmt.Errorf("%w: unknown node type %T", ErrTypeConflict, existing)
	}
}

// Remove detaches the named child and returns it.
func (d *Directory) Remove(name string) (Node, error) {
	i := d.indexOf(name)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	node := d.children[i]
	d.children = append(d.children[:i], d.children[i+1:]...)
	node.setParent(nil)

	return node, nil
}

// Walk visits d's descendants depth-first in child order.
// The path passed to fn is relative to d.
func (d *Directory) Walk(fn func(path string, node Node) error) error {
	return d.walk("", fn)
}

// walk is the recursive part of Walk.
func (d *Directory) walk(prefix string, fn func(path string, node Node) error) error {
	for _, child := range d.children {
		p := child.Name()
		if prefix != "" {
			p = prefix + "/" + p
		}

		if err := fn(p, child); err != nil {
			return err
		}

		if dir, ok := child.(*Directory); ok {
			if err := dir.walk(p, fn); err != nil {
				return err
			}
		}
	}

	return nil
}

// Files returns every file below d keyed by relative slash path.
func (d *Directory) Files() map[string]*File {
	out := make(map[string]*File)
	_ = d.Walk(func(p string, node Node) error {
		if f, ok := node.(*File); ok {
			out[p] = f
		}

		return nil
	})

	return out
}

// clone returns a detached shallow copy of the subtree; file content is shared.
func (d *Directory) clone() Node {
	out := &Directory{name: d.name, children: make([]Node, 0, len(d.children))}
	for _, child := range d.children {
		c := child.clone()
		c.setParent(out)
		out.children = append(out.children, c)
	}

	return out
}

// CopyTo adds a shallow clone of the subtree into dst.
func (d *Directory) CopyTo(dst *Directory, mode MergeMode) error {
	return dst.Add(d.clone(), mode)
}

// MoveTo detaches d and adds it into dst.
// When dst already holds the name, children merge into the existing directory.
func (d *Directory) MoveTo(dst *Directory, mode MergeMode) error {
	return moveNode(d, dst, mode)
}

// contains reports whether target is d or one of its descendants.
func (d *Directory) contains(target *Directory) bool {
	for cur := target; cur != nil; cur = cur.parent {
		if cur == d {
			return true
		}
	}

	return false
}

// moveNode detaches node and adds it into dst.
func moveNode(node Node, dst *Directory, mode MergeMode) error {
	if dst == nil {
		return fmt.Errorf("%w: nil destination", ErrNotFound)
	}
	if dir, ok := node.(*Directory); ok && dir.contains(dst) {
		return fmt.Errorf("%w: %s cannot move into itself", ErrInvalidName, node.Name())
	}

	detach(node)

	return dst.Add(node, mode)
}

// detach removes node from its current parent.
func detach(node Node) {
	parent := node.Parent()
	if parent == nil {
		return
	}

	for i, c := range parent.children {
		if c == node {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}

	node.setParent(nil)
}

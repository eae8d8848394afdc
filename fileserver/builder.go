// Package fileserver resolves request targets against a document root and
// builds the matching response.
package fileserver

import (
	stderrors "errors"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nczempin/simple-http/errors"
	"github.com/nczempin/simple-http/protocol"
)

// Builder serves files below a single document root. It holds no mutable
// state and is safe for concurrent use.
type Builder struct {
	root string
}

// NewBuilder canonicalizes root and checks that it is a directory.
func NewBuilder(root string) (*Builder, error) {
	if root == "" {
		return nil, errors.NewInvalidArgumentError("document root is empty")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("document root: " + err.Error())
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("document root: " + err.Error())
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("document root: " + err.Error())
	}
	if !info.IsDir() {
		return nil, errors.NewInvalidArgumentError("document root " + resolved + " is not a directory")
	}

	return &Builder{root: resolved}, nil
}

// Root returns the canonical document root.
func (b *Builder) Root() string {
	return b.root
}

// Resolve maps a request target to a canonical path under the root. ok is
// false when the target names nothing servable: it does not exist, cannot
// be decoded, or resolves outside the root.
func (b *Builder) Resolve(target string) (resolved string, ok bool, err error) {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	decoded, err := url.PathUnescape(target)
	if err != nil {
		return "", false, nil
	}

	rel := strings.TrimPrefix(path.Clean("/"+decoded), "/")
	joined := filepath.Join(b.root, filepath.FromSlash(rel))

	resolved, err = filepath.EvalSymlinks(joined)
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, errors.NewBuildError(errors.BuildErrorPathResolve, "resolving "+target, err)
	}

	if !b.contains(resolved) {
		return "", false, nil
	}
	return resolved, true, nil
}

func (b *Builder) contains(p string) bool {
	if p == b.root {
		return true
	}
	prefix := b.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// isNotFound reports errors that mean the target names no file: a
// missing entry, a file used as a directory, a NUL byte, or a name the
// filesystem cannot hold.
func isNotFound(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist) ||
		stderrors.Is(err, syscall.ENOTDIR) ||
		stderrors.Is(err, syscall.EINVAL) ||
		stderrors.Is(err, syscall.ENAMETOOLONG)
}

// Build produces the response for req. A missing file, a directory or a
// path outside the root is an ordinary 404; only I/O failures are errors.
func (b *Builder) Build(req *protocol.HttpRequest) (*protocol.HttpResponse, error) {
	resolved, ok, err := b.Resolve(req.Target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return protocol.NewNotFoundResponse(), nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if isNotFound(err) {
			return protocol.NewNotFoundResponse(), nil
		}
		return nil, errors.NewBuildError(errors.BuildErrorStat, "stat "+resolved, err)
	}
	if !info.Mode().IsRegular() {
		return protocol.NewNotFoundResponse(), nil
	}

	if value, ok := req.Header("Range"); ok {
		r, err := protocol.ParseRange(value, info.Size())
		switch err {
		case nil:
			return b.buildPartial(resolved, info.Size(), r)
		case protocol.ErrRangeNotSatisfiable:
			resp := protocol.NewResponse(protocol.StatusRangeNotSatisfiable, protocol.AcceptRangesBytes, nil)
			resp.ContentRange = protocol.UnsatisfiedContentRange(info.Size())
			return resp, nil
		}
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return nil, errors.NewBuildError(errors.BuildErrorFileRead, "reading "+resolved, err)
	}
	return protocol.NewResponse(protocol.StatusOK, protocol.AcceptRangesBytes, content), nil
}

func (b *Builder) buildPartial(resolved string, size int64, r protocol.ByteRange) (*protocol.HttpResponse, error) {
	f, err := os.Open(resolved)
	if err != nil {
		return nil, errors.NewBuildError(errors.BuildErrorFileRead, "opening "+resolved, err)
	}
	defer f.Close()

	content := make([]byte, r.Length)
	if _, err := io.ReadFull(io.NewSectionReader(f, r.Start, r.Length), content); err != nil {
		return nil, errors.NewBuildError(errors.BuildErrorFileRead, "reading range of "+resolved, err)
	}

	resp := protocol.NewResponse(protocol.StatusPartialContent, protocol.AcceptRangesBytes, content)
	resp.ContentRange = r.ContentRange(size)
	return resp, nil
}

package archhook

import (
	"bytes"
	"io"
	"sync"
)

// fakePlatform is the Platform capability injected into tests that cannot
// safely patch the test binary's own code (spec §9 "inject as a capability
// object... testable against a fake").
type fakePlatform struct {
	mu         sync.Mutex
	pageSize   int
	mapped     [][]byte // one entry per MapAnonymous call, keeps Go's GC from moving the backing array
	protectLog []protectCall
	images     []ImageInfo
	sharedInfo SharedCacheInfo
	mapFile    func(path string, offset, length int64) ([]byte, error)
	procMaps   string
}

type protectCall struct {
	addr uintptr
	size int
	prot Protection
}

func newFakePlatform(pageSize int) *fakePlatform {
	return &fakePlatform{pageSize: pageSize}
}

func (p *fakePlatform) PageSize() int { return p.pageSize }

func (p *fakePlatform) MapAnonymous(size int) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := make([]byte, size)
	p.mapped = append(p.mapped, buf)
	return uintptr(unsafePointer(buf)), nil
}

func (p *fakePlatform) Protect(addr uintptr, size int, prot Protection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.protectLog = append(p.protectLog, protectCall{addr: addr, size: size, prot: prot})
	return nil
}

func (p *fakePlatform) EnumerateImages() ([]ImageInfo, error) {
	return p.images, nil
}

func (p *fakePlatform) MapFile(path string, offset, length int64) ([]byte, error) {
	if p.mapFile != nil {
		return p.mapFile(path, offset, length)
	}
	return nil, statusError("MapFile", FileIO)
}

func (p *fakePlatform) ProcSelfMaps() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader([]byte(p.procMaps))), nil
}

func (p *fakePlatform) SharedCacheInfo() (SharedCacheInfo, error) {
	return p.sharedInfo, nil
}

func (p *fakePlatform) protectCalls() []protectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protectCall, len(p.protectLog))
	copy(out, p.protectLog)
	return out
}

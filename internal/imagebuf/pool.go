package imagebuf

import "sync"

// poolKey identifies scratch buffers by their dimensions, the same way
// internal/tile's rgbapool.go keys its sync.Map of sync.Pool by (w, h).
type poolKey struct {
	w, h int
}

// GrayPool hands out reusable Gray scratch buffers keyed by dimensions,
// clearing them to zero on reuse so stale data never leaks between tiles.
type GrayPool struct {
	pools sync.Map // poolKey -> *sync.Pool
}

func (p *GrayPool) poolFor(w, h int) *sync.Pool {
	key := poolKey{w, h}
	if v, ok := p.pools.Load(key); ok {
		return v.(*sync.Pool)
	}
	np := &sync.Pool{
		New: func() any { return NewGray(w, h) },
	}
	actual, _ := p.pools.LoadOrStore(key, np)
	return actual.(*sync.Pool)
}

// Get returns a zeroed Gray image of the requested size.
func (p *GrayPool) Get(w, h int) *Gray {
	im := p.poolFor(w, h).Get().(*Gray)
	im.Fill(0)
	return im
}

// Put returns im to the pool for reuse.
func (p *GrayPool) Put(im *Gray) {
	if im == nil || im.Empty() {
		return
	}
	p.poolFor(im.Width, im.Height).Put(im)
}

// RGBPool is the RGB analogue of GrayPool.
type RGBPool struct {
	pools sync.Map // poolKey -> *sync.Pool
}

func (p *RGBPool) poolFor(w, h int) *sync.Pool {
	key := poolKey{w, h}
	if v, ok := p.pools.Load(key); ok {
		return v.(*sync.Pool)
	}
	np := &sync.Pool{
		New: func() any { return NewRGB(w, h) },
	}
	actual, _ := p.pools.LoadOrStore(key, np)
	return actual.(*sync.Pool)
}

// Get returns a zeroed RGB image of the requested size.
func (p *RGBPool) Get(w, h int) *RGBImage {
	im := p.poolFor(w, h).Get().(*RGBImage)
	im.Fill(RGB{})
	return im
}

// Put returns im to the pool for reuse.
func (p *RGBPool) Put(im *RGBImage) {
	if im == nil || im.Empty() {
		return
	}
	p.poolFor(im.Width, im.Height).Put(im)
}

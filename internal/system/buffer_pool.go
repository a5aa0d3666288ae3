package system

import (
	"image"
	"sync"
)

// ImagePool переиспользует кадровые буферы *image.RGBA между задачами
// рендера, чтобы не давить на GC полноразмерными аллокациями на каждый
// кадр. Пулы разделены по разрешению базового ролика.
type ImagePool struct {
	pools map[string]*sync.Pool
	mu    sync.RWMutex
}

var framePool = &ImagePool{
	pools: make(map[string]*sync.Pool),
}

// GetImage выдаёт буфер нужного размера из пула или создаёт новый.
func GetImage(rect image.Rectangle) *image.RGBA {
	return framePool.Get(rect)
}

// PutImage возвращает буфер в пул. Содержимое не обнуляется: декодер
// перезаписывает кадр целиком.
func PutImage(img *image.RGBA) {
	framePool.Put(img)
}

func (p *ImagePool) Get(rect image.Rectangle) *image.RGBA {
	key := rect.String()
	p.mu.RLock()
	pool, exists := p.pools[key]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		// Double check
		pool, exists = p.pools[key]
		if !exists {
			pool = &sync.Pool{
				New: func() interface{} {
					return image.NewRGBA(rect)
				},
			}
			p.pools[key] = pool
		}
		p.mu.Unlock()
	}

	return pool.Get().(*image.RGBA)
}

func (p *ImagePool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	key := img.Rect.String()
	p.mu.RLock()
	pool, exists := p.pools[key]
	p.mu.RUnlock()

	if exists {
		pool.Put(img)
	}
}

package fbcontext

import "sync"

// Batch は現在のリクエスト内で参照されたFacebook IDの集合。
// プロフィール取得時にこの集合をまとめて1回のAPI呼び出しで取得するために使う。
// 追加順を保持し、重複は無視する。
type Batch struct {
	mu   sync.Mutex
	ids  []int64
	seen map[int64]struct{}
}

// NewBatch は空のBatchを生成する。
func NewBatch() *Batch {
	return &Batch{seen: make(map[int64]struct{})}
}

// Add はFacebook IDを追加する。0は無視する。
func (b *Batch) Add(id int64) {
	if id == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[id]; ok {
		return
	}
	b.seen[id] = struct{}{}
	b.ids = append(b.ids, id)
}

// IDs は追加されたIDのコピーを追加順で返す。
func (b *Batch) IDs() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int64, len(b.ids))
	copy(out, b.ids)
	return out
}

// Len は追加されたIDの数を返す。
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ids)
}

// Reset は集合を空にする。
func (b *Batch) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids = nil
	b.seen = make(map[int64]struct{})
}

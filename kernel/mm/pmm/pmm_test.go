package pmm

import (
	"testing"

	"github.com/talonateox/vyper/kernel/hal/boot"
	"github.com/talonateox/vyper/kernel/mm"
)

func setupSmallRegion(t *testing.T) {
	t.Helper()
	boot.SetMemoryMap([]boot.MemoryMapEntry{
		{Base: 0, Length: 4 * mm.PageSize, Type: boot.MemUsable},
	})
	if err := Init(); err != nil {
		t.Fatalf("Init failed: %s", err)
	}
}

func TestAllocFrameNeverReturnsASetBit(t *testing.T) {
	setupSmallRegion(t)

	seen := map[mm.Frame]bool{}
	for i := 0; i < 4; i++ {
		f, err := global.AllocFrame()
		if err != nil {
			t.Fatalf("unexpected error on alloc %d: %s", i, err)
		}
		if seen[f] {
			t.Fatalf("frame %v returned twice without an intervening free", f)
		}
		seen[f] = true
	}
}

func TestAllocFrameExhaustion(t *testing.T) {
	setupSmallRegion(t)

	for i := 0; i < 4; i++ {
		if _, err := global.AllocFrame(); err != nil {
			t.Fatalf("unexpected error on alloc %d: %s", i, err)
		}
	}

	if _, err := global.AllocFrame(); err == nil {
		t.Fatal("expected AllocFrame to fail once all frames are exhausted")
	}
}

func TestFreeMakesFrameAvailableAgain(t *testing.T) {
	setupSmallRegion(t)

	var allocated []mm.Frame
	for i := 0; i < 4; i++ {
		f, _ := global.AllocFrame()
		allocated = append(allocated, f)
	}

	before := global.FreePages()
	global.FreeFrame(allocated[0])

	if got := global.FreePages(); got != before+1 {
		t.Fatalf("expected FreePages to increase by 1 after Free; got %d (was %d)", got, before)
	}

	if _, err := global.AllocFrame(); err != nil {
		t.Fatalf("expected a frame to be available after Free; got error: %s", err)
	}
}

func TestFreeIsIdempotentOnDoubleFree(t *testing.T) {
	setupSmallRegion(t)

	f, _ := global.AllocFrame()
	global.FreeFrame(f)
	before := global.FreePages()
	global.FreeFrame(f)

	if got := global.FreePages(); got != before {
		t.Fatalf("expected double-free to be a no-op; free count changed from %d to %d", before, got)
	}
}

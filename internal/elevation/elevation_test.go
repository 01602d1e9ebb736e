package elevation

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// flatTile builds a size x size grid where every sample equals elevation.
func flatTile(size int, elevation int16) []byte {
	buf := make([]byte, size*size*2)
	for i := 0; i < size*size; i++ {
		binary.BigEndian.PutUint16(buf[2*i:], uint16(elevation))
	}
	return buf
}

func TestDecodeHGTFlatTileInterpolatesToConstant(t *testing.T) {
	data := flatTile(3, 500)
	tile, err := decodeHGT(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tile.Size != 3 {
		t.Fatalf("size: got %d", tile.Size)
	}
	elev, ok := tile.elevationAt(45.5, 9.5, 45, 9)
	if !ok {
		t.Fatal("expected a value")
	}
	if elev != 500 {
		t.Fatalf("elevation: got %d", elev)
	}
}

func TestDecodeHGTRejectsOddLength(t *testing.T) {
	if _, err := decodeHGT([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for odd-length payload")
	}
}

func TestDecodeHGTRejectsNonSquareGrid(t *testing.T) {
	if _, err := decodeHGT(make([]byte, 10)); err == nil {
		t.Fatal("expected an error for a non-square sample count")
	}
}

func TestTileVoidValueMisses(t *testing.T) {
	data := flatTile(2, voidValue)
	tile, err := decodeHGT(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := tile.elevationAt(45.5, 9.5, 45, 9); ok {
		t.Fatal("expected void samples to miss")
	}
}

func writeTileFile(t *testing.T, base string, latFloor, lonFloor int, gz bool, data []byte) {
	t.Helper()
	dir, name := tileFilename(latFloor, lonFloor)
	dirPath := filepath.Join(base, dir)
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if gz {
		name += ".gz"
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			t.Fatalf("gzip write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("gzip close: %v", err)
		}
		data = buf.Bytes()
	}
	if err := os.WriteFile(filepath.Join(dirPath, name), data, 0o644); err != nil {
		t.Fatalf("write tile: %v", err)
	}
}

func TestLocalTileSourceReadsPlainAndGzipTiles(t *testing.T) {
	dir := t.TempDir()
	writeTileFile(t, dir, 45, 9, false, flatTile(3, 700))
	writeTileFile(t, dir, -45, -9, true, flatTile(3, 300))

	src := LocalTileSource{BasePath: dir}

	tile, err := src.LoadTile(45, 9)
	if err != nil {
		t.Fatalf("load plain tile: %v", err)
	}
	if elev, ok := tile.elevationAt(45.5, 9.5, 45, 9); !ok || elev != 700 {
		t.Fatalf("plain tile elevation: got %d, ok=%v", elev, ok)
	}

	tile, err = src.LoadTile(-45, -9)
	if err != nil {
		t.Fatalf("load gzip tile: %v", err)
	}
	if elev, ok := tile.elevationAt(-44.5, -8.5, -45, -9); !ok || elev != 300 {
		t.Fatalf("gzip tile elevation: got %d, ok=%v", elev, ok)
	}
}

func TestTileFilenameMatchesSRTMLayout(t *testing.T) {
	cases := []struct {
		lat, lon  int
		wantDir   string
		wantFile  string
	}{
		{45, 9, "N45", "N45E009.hgt"},
		{-45, -9, "S45", "S45W009.hgt"},
		{0, 0, "N00", "N00E000.hgt"},
	}
	for _, c := range cases {
		dir, name := tileFilename(c.lat, c.lon)
		if dir != c.wantDir || name != c.wantFile {
			t.Fatalf("tileFilename(%d,%d): got (%s,%s), want (%s,%s)", c.lat, c.lon, dir, name, c.wantDir, c.wantFile)
		}
	}
}

func TestNullTileSourceAlwaysMisses(t *testing.T) {
	if _, err := (NullTileSource{}).LoadTile(45, 9); err == nil {
		t.Fatal("expected NullTileSource to always error")
	}
}

func TestBoundedCacheLookupAndCacheHit(t *testing.T) {
	dir := t.TempDir()
	writeTileFile(t, dir, 45, 9, false, flatTile(3, 650))
	cache := NewBoundedCacheSized(LocalTileSource{BasePath: dir}, 16, 4)

	elev, ok := cache.Lookup(context.Background(), 45.5, 9.5)
	if !ok || elev != 650 {
		t.Fatalf("first lookup: got %d, ok=%v", elev, ok)
	}
	// Second lookup should hit the result cache without re-touching the tile source.
	elev, ok = cache.Lookup(context.Background(), 45.5, 9.5)
	if !ok || elev != 650 {
		t.Fatalf("second lookup: got %d, ok=%v", elev, ok)
	}
}

func TestBoundedCacheOutOfRangeMisses(t *testing.T) {
	cache := NewBoundedCache(NullTileSource{})
	if _, ok := cache.Lookup(context.Background(), 200, 0); ok {
		t.Fatal("expected out-of-range latitude to miss")
	}
}

func TestBoundedCacheMissingTileCachesNegativeResult(t *testing.T) {
	cache := NewBoundedCacheSized(NullTileSource{}, 16, 4)
	if _, ok := cache.Lookup(context.Background(), 1, 1); ok {
		t.Fatal("expected a miss when no tile source has data")
	}
	// Repeat lookup should take the cached-miss path.
	if _, ok := cache.Lookup(context.Background(), 1, 1); ok {
		t.Fatal("expected the cached miss to remain a miss")
	}
}

func TestLRUEvictsOldestBeyondCapacity(t *testing.T) {
	c := newLRU[int, int](2)
	c.Put(1, 10)
	c.Put(2, 20)
	c.Put(3, 30) // evicts key 1

	if _, ok := c.Get(1); ok {
		t.Fatal("expected key 1 to have been evicted")
	}
	if v, ok := c.Get(2); !ok || v != 20 {
		t.Fatalf("key 2: got %d, ok=%v", v, ok)
	}
	if v, ok := c.Get(3); !ok || v != 30 {
		t.Fatalf("key 3: got %d, ok=%v", v, ok)
	}
}

package fatslack

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/golang/mock/gomock"
)

func TestParseFATEntry(t *testing.T) {
	tests := []struct {
		name string
		raw  uint32
		want FATEntry
	}{
		{"free", 0x00000000, FATEntry{Kind: EntryFree}},
		{"reserved 1", 0x00000001, FATEntry{Kind: EntryReserved}},
		{"first data cluster", 0x00000002, FATEntry{Kind: EntryAllocated, Next: 2}},
		{"last allocatable", 0x0FFFFFEF, FATEntry{Kind: EntryAllocated, Next: 0x0FFFFFEF}},
		{"reserved range", 0x0FFFFFF0, FATEntry{Kind: EntryReserved}},
		{"reserved range end", 0x0FFFFFF6, FATEntry{Kind: EntryReserved}},
		{"bad", 0x0FFFFFF7, FATEntry{Kind: EntryBad}},
		{"end of chain min", 0x0FFFFFF8, FATEntry{Kind: EntryEndOfChain}},
		{"end of chain", 0x0FFFFFFF, FATEntry{Kind: EntryEndOfChain}},
		{"upper bits ignored", 0xF0000005, FATEntry{Kind: EntryAllocated, Next: 5}},
		{"upper bits on bad", 0xFFFFFFF7, FATEntry{Kind: EntryBad}},
		{"upper bits on free", 0x10000000, FATEntry{Kind: EntryFree}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseFATEntry(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseFATEntry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFATEntry_Value(t *testing.T) {
	tests := []struct {
		name string
		e    FATEntry
		want uint32
	}{
		{"free", FATEntry{Kind: EntryFree}, 0},
		{"allocated", FATEntry{Kind: EntryAllocated, Next: 42}, 42},
		{"end of chain", FATEntry{Kind: EntryEndOfChain}, 0x0FFFFFFF},
		{"bad", FATEntry{Kind: EntryBad}, 0x0FFFFFF7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.e.Value(); got != tt.want {
				t.Errorf("FATEntry.Value() = %v, want %v", got, tt.want)
			}
			if got := ParseFATEntry(tt.e.Value()); !reflect.DeepEqual(got, tt.e) {
				t.Errorf("ParseFATEntry(FATEntry.Value()) = %v, want %v", got, tt.e)
			}
		})
	}
}

func TestTable_ReadEntryCopy(t *testing.T) {
	tests := []struct {
		name    string
		fatCopy int
		cluster uint32
		want    FATEntry
		wantErr error
	}{
		{"allocated", 0, testTxtCluster, FATEntry{Kind: EntryAllocated, Next: testTxtLast}, nil},
		{"end of chain", 1, testTxtLast, FATEntry{Kind: EntryEndOfChain}, nil},
		{"bad", 1, testBadCluster, FATEntry{Kind: EntryBad}, nil},
		{"free", 0, testFirstFree, FATEntry{Kind: EntryFree}, nil},
		{"last cluster", 0, testMaxCluster, FATEntry{Kind: EntryFree}, nil},
		{"reserved cluster 1", 0, 1, FATEntry{}, ErrInvalidCluster},
		{"behind the last cluster", 0, testMaxCluster + 1, FATEntry{}, ErrInvalidCluster},
		{"no such copy", 2, testTxtCluster, FATEntry{}, ErrOutOfBounds},
		{"negative copy", -1, testTxtCluster, FATEntry{}, ErrOutOfBounds},
	}
	table := newTestImage().volume(t, DefaultOptions()).Table()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.ReadEntryCopy(tt.fatCopy, tt.cluster)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Table.ReadEntryCopy() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Table.ReadEntryCopy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTable_WriteEntry(t *testing.T) {
	type mock struct {
		old      uint32
		writeErr error
	}
	tests := []struct {
		name      string
		cluster   uint32
		value     uint32
		mockData  mock
		wantWrite uint32
		wantErr   error
	}{
		{
			name:      "mark bad",
			cluster:   8,
			value:     fatEntryBad,
			wantWrite: 0x0FFFFFF7,
		},
		{
			name:      "upper bits are kept",
			cluster:   8,
			value:     5,
			mockData:  mock{old: 0xA0000000},
			wantWrite: 0xA0000005,
		},
		{
			name:      "upper bits of the value are dropped",
			cluster:   8,
			value:     0xF0000000,
			mockData:  mock{old: 0x0FFFFFFF},
			wantWrite: 0,
		},
		{
			name:      "device failure",
			cluster:   8,
			value:     fatEntryEOC,
			mockData:  mock{writeErr: deviceTestsError},
			wantWrite: 0x0FFFFFFF,
			wantErr:   deviceTestsError,
		},
	}

	opts, _ := testOptions()
	bs, err := DecodeBootSector(bootSectorBytes(t, newTestImage().defaultBPB()), opts)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockCtrl := gomock.NewController(t)
			mockDev := NewMockDevice(mockCtrl)

			entryOff := int64(tt.cluster) * 4
			mockDev.EXPECT().
				ReadAt(gomock.Any(), bs.FATOffset(0)+entryOff).
				DoAndReturn(func(p []byte, off int64) (int, error) {
					binary.LittleEndian.PutUint32(p, tt.mockData.old)
					return len(p), nil
				})

			want := make([]byte, 4)
			binary.LittleEndian.PutUint32(want, tt.wantWrite)
			if tt.mockData.writeErr != nil {
				mockDev.EXPECT().
					WriteAt(want, bs.FATOffset(0)+entryOff).
					Return(0, tt.mockData.writeErr)
			} else {
				for fatCopy := 0; fatCopy < int(bs.NumFATs); fatCopy++ {
					mockDev.EXPECT().
						WriteAt(want, bs.FATOffset(fatCopy)+entryOff).
						Return(4, nil)
				}
			}

			err := NewTable(mockDev, bs, opts).WriteEntry(tt.cluster, tt.value)

			mockCtrl.Finish()

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Table.WriteEntry() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTable_MarkBad(t *testing.T) {
	opts, hook := testOptions()
	v := newTestImage().volume(t, opts)
	table := v.Table()

	if err := table.MarkBad(testFirstFree); err != nil {
		t.Fatalf("Table.MarkBad() error = %v", err)
	}

	for fatCopy := 0; fatCopy < int(v.Boot.NumFATs); fatCopy++ {
		e, err := table.ReadEntryCopy(fatCopy, testFirstFree)
		if err != nil {
			t.Fatal(err)
		}
		if e.Kind != EntryBad {
			t.Errorf("FAT copy %d: cluster %d is %v, want %v", fatCopy, testFirstFree, e.Kind, EntryBad)
		}
	}

	if last := hook.LastEntry(); last == nil || last.Message != "FAT entry written" {
		t.Errorf("Table.MarkBad() did not log the write: %v", last)
	}

	if err := table.MarkBad(testMaxCluster + 1); !errors.Is(err, ErrInvalidCluster) {
		t.Errorf("Table.MarkBad() error = %v, wantErr %v", err, ErrInvalidCluster)
	}
}

func TestTable_FollowChain(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(ti *testImage)
		start   uint32
		want    []uint32
		wantErr error
	}{
		{
			name:  "two clusters",
			start: testTxtCluster,
			want:  []uint32{testTxtCluster, testTxtLast},
		},
		{
			name:  "single cluster",
			start: testRootCluster,
			want:  []uint32{testRootCluster},
		},
		{
			name:    "self loop",
			modify:  func(ti *testImage) { ti.setFAT(5, 5) },
			start:   5,
			wantErr: ErrCorruptChain,
		},
		{
			name:    "loop over two clusters",
			modify:  func(ti *testImage) { ti.setFAT(testTxtLast, testTxtCluster) },
			start:   testTxtCluster,
			wantErr: ErrCorruptChain,
		},
		{
			name:    "link to a free cluster",
			modify:  func(ti *testImage) { ti.setFAT(testTxtLast, testFirstFree) },
			start:   testTxtCluster,
			wantErr: ErrCorruptChain,
		},
		{
			name:    "link to a bad cluster",
			modify:  func(ti *testImage) { ti.setFAT(testTxtLast, testBadCluster) },
			start:   testTxtCluster,
			wantErr: ErrCorruptChain,
		},
		{
			name:    "link behind the last cluster",
			modify:  func(ti *testImage) { ti.setFAT(testTxtLast, 100) },
			start:   testTxtCluster,
			wantErr: ErrCorruptChain,
		},
		{
			name:    "link to reserved cluster 1",
			modify:  func(ti *testImage) { ti.setFAT(testTxtLast, 1) },
			start:   testTxtCluster,
			wantErr: ErrCorruptChain,
		},
		{
			name:    "start at a free cluster",
			start:   testFirstFree,
			wantErr: ErrCorruptChain,
		},
		{
			name:    "start at cluster 0",
			start:   0,
			wantErr: ErrInvalidCluster,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ti := newTestImage()
			if tt.modify != nil {
				tt.modify(ti)
			}
			table := ti.volume(t, DefaultOptions()).Table()

			got, err := table.FollowChain(tt.start)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Table.FollowChain() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr != nil && ClassOf(err) != ClassLogical {
				t.Errorf("ClassOf() = %v, want %v", ClassOf(err), ClassLogical)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Table.FollowChain() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChain_Reset(t *testing.T) {
	table := newTestImage().volume(t, DefaultOptions()).Table()
	c := table.Chain(testTxtCluster)

	for round := 0; round < 2; round++ {
		var got []uint32
		for c.Next() {
			got = append(got, c.Cluster())
		}
		if err := c.Err(); err != nil {
			t.Fatalf("Chain.Err() = %v", err)
		}
		if want := []uint32{testTxtCluster, testTxtLast}; !reflect.DeepEqual(got, want) {
			t.Errorf("round %d: Chain = %v, want %v", round, got, want)
		}
		if c.Next() {
			t.Errorf("Chain.Next() = true after the end")
		}
		c.Reset()
	}
}

func TestTable_FindFreeRun(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		want    uint32
		wantErr error
	}{
		{"single", 1, testFirstFree, nil},
		{"two fit before the bad cluster", 2, testFirstFree, nil},
		{"three start behind the bad cluster", 3, testBadCluster + 1, nil},
		{"whole tail", testMaxCluster - testBadCluster, testBadCluster + 1, nil},
		{"too long", testMaxCluster - testBadCluster + 1, 0, ErrNoFreeCluster},
		{"zero", 0, 0, ErrInvalidCluster},
	}
	table := newTestImage().volume(t, DefaultOptions()).Table()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.FindFreeRun(tt.n)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Table.FindFreeRun() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("Table.FindFreeRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTable_Scans(t *testing.T) {
	table := newTestImage().volume(t, DefaultOptions()).Table()

	free, err := table.FindFreeCluster()
	if err != nil || free != testFirstFree {
		t.Errorf("Table.FindFreeCluster() = %v, %v, want %v", free, err, testFirstFree)
	}

	bad, err := table.BadClusters()
	if err != nil || !reflect.DeepEqual(bad, []uint32{testBadCluster}) {
		t.Errorf("Table.BadClusters() = %v, %v, want %v", bad, err, []uint32{testBadCluster})
	}

	// 72 clusters, 7 of them used or bad.
	count, err := table.FreeClusterCount()
	if err != nil || count != 65 {
		t.Errorf("Table.FreeClusterCount() = %v, %v, want %v", count, err, 65)
	}
}

func TestTable_NoFreeCluster(t *testing.T) {
	ti := newTestImage()
	for c := uint32(testFirstFree); c <= testMaxCluster; c++ {
		ti.setFAT(c, fatEntryEOC)
	}
	table := ti.volume(t, DefaultOptions()).Table()

	if _, err := table.FindFreeCluster(); !errors.Is(err, ErrNoFreeCluster) {
		t.Errorf("Table.FindFreeCluster() error = %v, wantErr %v", err, ErrNoFreeCluster)
	}
}

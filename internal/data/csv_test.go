package data

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "BTCUSDT_1h.csv")

	content := "timestamp,open,high,low,close,volume\n" +
		"1717243200000,100,105,99,104,1200\n" +
		"1717239600000,98,101,97,100,900\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	bars, err := LoadCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(bars))
	}

	// Rows are sorted by open time regardless of file order.
	if !bars[0].OpenTime.Before(bars[1].OpenTime) {
		t.Error("bars not sorted by open time")
	}
	if bars[0].Close != 100 || bars[1].Close != 104 {
		t.Errorf("closes = %f, %f", bars[0].Close, bars[1].Close)
	}
	if bars[1].High != 105 || bars[1].Low != 99 || bars[1].Volume != 1200 {
		t.Errorf("bar fields wrong: %+v", bars[1])
	}

	want := time.Unix(0, 1717243200000*int64(time.Millisecond)).UTC()
	if !bars[1].OpenTime.Equal(want) {
		t.Errorf("open time = %v, want %v", bars[1].OpenTime, want)
	}
}

func TestLoadCSV_RFC3339AndSeconds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "series.csv")

	content := "2025-06-01T12:00:00Z,1,2,0.5,1.5,10\n" +
		"1748781000,2,3,1.5,2.5,20\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	bars, err := LoadCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(bars))
	}
}

func TestLoadCSV_BadRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")

	content := "1717239600000,98,101,97,100,900\n" +
		"1717243200000,notanumber,105,99,104,1200\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadCSV(path); err == nil {
		t.Fatal("expected an error for a malformed row")
	}
}

func TestLoadCSV_MissingFile(t *testing.T) {
	if _, err := LoadCSV(filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestFileSource_Bars(t *testing.T) {
	dir := t.TempDir()
	content := "1717239600000,98,101,97,100,900\n"
	if err := os.WriteFile(filepath.Join(dir, "ETHUSDT_4h.csv"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	src := &FileSource{Dir: dir}
	bars, err := src.Bars("ETHUSDT", "4h")
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 1 || bars[0].Open != 98 {
		t.Errorf("bars = %+v", bars)
	}
}

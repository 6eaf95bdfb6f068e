package stationconfig

import (
	"errors"
	"reflect"
	"testing"

	"github.com/pluvion/provision/internal/flashfs"
	"github.com/pluvion/provision/internal/keystore"
)

func newTestRepository() (*Repository, *flashfs.Mem) {
	fs := flashfs.NewMem()
	return NewRepository(keystore.New(fs)), fs
}

func TestSaveCoordinatesNormalizesComma(t *testing.T) {
	r, _ := newTestRepository()

	if !r.SaveCoordinates("-23,55", "-46,63") {
		t.Fatal("SaveCoordinates() = false")
	}
	if got := r.Latitude(); got != "-23.55" {
		t.Errorf("Latitude() = %q, want -23.55", got)
	}
	if got := r.Longitude(); got != "-46.63" {
		t.Errorf("Longitude() = %q, want -46.63", got)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		save func(r *Repository, v string) bool
		get  func(r *Repository) string
		in   string
		want string
	}{
		{"bucket volume", (*Repository).SaveBucketVolume, (*Repository).BucketVolume, "2,47", "2.47"},
		{"reset countdown", (*Repository).SaveResetCountdown, (*Repository).ResetCountdown, "3600000", "3600000"},
		{"station name", (*Repository).SaveStationName, (*Repository).StationName, "station_01", "station_01"},
		{"firmware version", (*Repository).SaveFirmwareVersion, (*Repository).FirmwareVersion, "1.4.2", "1.4.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRepository()
			if !tt.save(r, tt.in) {
				t.Fatal("save returned false")
			}
			if got := tt.get(r); got != tt.want {
				t.Errorf("get = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStationNameCannotReachOtherKeys(t *testing.T) {
	fs := flashfs.NewDir(t.TempDir())
	r := NewRepository(keystore.New(fs))

	if !r.SaveCoordinates("-23.55", "-46.63") {
		t.Fatal("SaveCoordinates() = false")
	}
	for _, name := range []string{"../lat/zz", "../lat/!", "a/b", ".."} {
		if !r.SaveStationName(name) {
			t.Fatalf("SaveStationName(%q) = false", name)
		}
		if got := r.StationName(); got != name {
			t.Errorf("StationName() = %q, want %q", got, name)
		}
		entries, err := fs.List(keystore.Latitude.Path())
		if err != nil {
			t.Fatal(err)
		}
		if want := []string{"/stt/lat/-23.55"}; !reflect.DeepEqual(entries, want) {
			t.Errorf("latitude entries after name %q = %v, want %v", name, entries, want)
		}
		if got := r.Latitude(); got != "-23.55" {
			t.Errorf("Latitude() after name %q = %q, want -23.55", name, got)
		}
	}
}

func TestGetNormalizesLegacyCommaOnRead(t *testing.T) {
	r, fs := newTestRepository()
	_ = fs.Create("/stt/bucketvol/3,1")
	_ = fs.Create("/stt/name/a,b")

	if got := r.BucketVolume(); got != "3.1" {
		t.Errorf("BucketVolume() = %q, want 3.1", got)
	}
	if got := r.StationName(); got != "a,b" {
		t.Errorf("StationName() = %q, want a,b", got)
	}
}

func TestUnsetIsEmpty(t *testing.T) {
	r, _ := newTestRepository()
	if got := r.Snapshot(); got != (Snapshot{}) {
		t.Errorf("Snapshot() = %+v, want zero", got)
	}
}

func TestReadFailureDegradesToEmpty(t *testing.T) {
	r, fs := newTestRepository()
	r.SaveStationName("kept")

	fs.ListErr = errors.New("flash read error")
	if got := r.StationName(); got != "" {
		t.Errorf("StationName() = %q, want empty on read failure", got)
	}

	fs.ListErr = nil
	if got := r.StationName(); got != "kept" {
		t.Errorf("StationName() = %q after recovery, want kept", got)
	}
}

func TestSaveFailureReportsFalse(t *testing.T) {
	r, fs := newTestRepository()
	fs.CreateErr = errors.New("flash full")

	if r.SaveStationName("x") {
		t.Error("SaveStationName() = true, want false")
	}
	if r.SaveCoordinates("1", "2") {
		t.Error("SaveCoordinates() = true, want false")
	}
}

func TestMountFailureStillServesValues(t *testing.T) {
	r, fs := newTestRepository()
	fs.MountErr = errors.New("mount failed")

	// Fail-open: the save succeeds and the value is readable while every
	// mount attempt fails. Only StorageHealthy reveals it.
	if !r.SaveBucketVolume("3.3") {
		t.Fatal("SaveBucketVolume() = false")
	}
	if got := r.BucketVolume(); got != "3.3" {
		t.Errorf("BucketVolume() = %q, want 3.3", got)
	}
	if r.StorageHealthy() {
		t.Error("StorageHealthy() = true with failing mount")
	}
}

func TestResetKeepsFirmwareVersion(t *testing.T) {
	r, fs := newTestRepository()
	r.SaveCoordinates("1", "2")
	r.SaveBucketVolume("3")
	r.SaveResetCountdown("4")
	r.SaveStationName("n")
	r.SaveFirmwareVersion("1.0.0")

	if !r.Reset() {
		t.Fatal("Reset() = false")
	}
	want := Snapshot{FirmwareVersion: "1.0.0"}
	if got := r.Snapshot(); got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}
	if paths := fs.Paths(); !reflect.DeepEqual(paths, []string{"/fmwver/1.0.0"}) {
		t.Errorf("entries = %v", paths)
	}
}

func TestSnapshot(t *testing.T) {
	r, _ := newTestRepository()
	r.SaveCoordinates("-23.55", "-46.63")
	r.SaveBucketVolume("2.47")
	r.SaveStationName("sp-01")

	want := Snapshot{
		Latitude:     "-23.55",
		Longitude:    "-46.63",
		BucketVolume: "2.47",
		StationName:  "sp-01",
	}
	if got := r.Snapshot(); got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}
}

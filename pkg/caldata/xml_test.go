package caldata

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestXMLRoundTripPreservesOrder(t *testing.T) {
	d := New()
	d.AddMeasurement(20, 2.5, 900)
	d.AddMeasurement(5, 0.8, 150)
	d.AddMeasurement(12, 1.6, 480)

	raw, err := d.ToXML()
	if err != nil {
		t.Fatalf("ToXML failed: %v", err)
	}
	if !strings.HasPrefix(string(raw), "<?xml") {
		t.Error("serialized document is missing the XML declaration")
	}

	loaded, err := FromXML(raw)
	if err != nil {
		t.Fatalf("FromXML failed: %v", err)
	}

	want := d.Measurements()
	got := loaded.Measurements()
	if len(got) != len(want) {
		t.Fatalf("got %d measurements, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("measurement %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFromXMLIgnoresUnknownElements(t *testing.T) {
	raw := `<?xml version="1.0"?>
<calibration-data>
  <comment>manually edited</comment>
  <measurement>
    <current>10</current>
    <voltage>1.4</voltage>
    <temperature>620</temperature>
    <operator>js</operator>
  </measurement>
</calibration-data>`

	d, err := FromXML([]byte(raw))
	if err != nil {
		t.Fatalf("FromXML failed: %v", err)
	}
	if d.Len() != 1 {
		t.Fatalf("got %d measurements, want 1", d.Len())
	}
	m := d.Measurements()[0]
	if m.HeatingCurrent != 10 || m.SensorVoltage != 1.4 || m.Temperature != 620 {
		t.Errorf("measurement = %+v, want {10 1.4 620}", m)
	}
}

func TestFromXMLRejectsBadDocuments(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"wrong root", `<battery><measurement/></battery>`},
		{"not xml", `{"current": 10}`},
		{"non-finite value", `<calibration-data><measurement><current>NaN</current><voltage>1</voltage><temperature>2</temperature></measurement></calibration-data>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromXML([]byte(tc.raw)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.cal")

	d := New()
	d.AddMeasurement(8, 1.1, 330)
	if err := d.SaveFile(path); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if loaded.Len() != 1 || loaded.Measurements()[0] != d.Measurements()[0] {
		t.Errorf("loaded data = %+v, want %+v", loaded.Measurements(), d.Measurements())
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.cal")); err == nil {
		t.Error("expected error for missing file")
	}
}

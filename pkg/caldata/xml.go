package caldata

import (
	"encoding/xml"
	"math"
	"os"

	"github.com/pkg/errors"
)

// The .cal file format:
//
//	<?xml version="1.0" encoding="UTF-8"?>
//	<calibration-data>
//	  <measurement>
//	    <current>10</current>
//	    <voltage>1.42</voltage>
//	    <temperature>731.5</temperature>
//	  </measurement>
//	</calibration-data>
//
// Unknown elements and attributes are ignored on load so older and newer
// files stay interchangeable.

type xmlMeasurement struct {
	Current     float64 `xml:"current"`
	Voltage     float64 `xml:"voltage"`
	Temperature float64 `xml:"temperature"`
}

type xmlDocument struct {
	XMLName      xml.Name         `xml:"calibration-data"`
	Measurements []xmlMeasurement `xml:"measurement"`
}

// ToXML serializes the measurements, in insertion order, as a standalone
// XML document.
func (d *Data) ToXML() ([]byte, error) {
	doc := xmlDocument{}
	for _, m := range d.Measurements() {
		doc.Measurements = append(doc.Measurements, xmlMeasurement{
			Current:     m.HeatingCurrent,
			Voltage:     m.SensorVoltage,
			Temperature: m.Temperature,
		})
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize calibration data")
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

// FromXML parses a .cal document produced by ToXML into a fresh dataset
// with default fitting parameters. Measurements with non-finite values are
// rejected.
func FromXML(raw []byte) (*Data, error) {
	var doc xmlDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse calibration data")
	}

	d := New()
	for _, m := range doc.Measurements {
		if !finite(m.Current) || !finite(m.Voltage) || !finite(m.Temperature) {
			return nil, errors.Errorf("calibration data contains non-finite measurement: current=%g voltage=%g temperature=%g",
				m.Current, m.Voltage, m.Temperature)
		}
		d.AddMeasurement(m.Current, m.Voltage, m.Temperature)
	}
	return d, nil
}

// SaveFile writes the dataset to path as a .cal document.
func (d *Data) SaveFile(path string) error {
	raw, err := d.ToXML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write calibration data to %s", path)
	}
	return nil
}

// LoadFile reads a .cal document from path.
func LoadFile(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read calibration data from %s", path)
	}
	return FromXML(raw)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

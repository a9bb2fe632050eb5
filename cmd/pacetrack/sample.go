package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pacetrack/pacetrack/internal/platform/egm"
	"github.com/pacetrack/pacetrack/internal/platform/hl7v2"
)

// sampleSeries describes a synthetic follow-up history for one patient.
type sampleSeries struct {
	PatientID string
	Count     int
	Interval  time.Duration
	Start     time.Time
}

const (
	sampleRate     = 512
	sampleSeconds  = 10
	sampleBeatMs   = 800
	sampleSpikeMuV = 1200
)

// messages builds one ORU^R01 per transmission. Battery voltage declines
// linearly, the ventricular lead drifts upward, AF burden climbs and the
// final transmission carries an EGM strip.
func (s sampleSeries) messages() ([][]byte, error) {
	if s.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", s.Count)
	}
	out := make([][]byte, 0, s.Count)
	for i := 0; i < s.Count; i++ {
		at := s.Start.Add(time.Duration(i) * s.Interval)
		days := at.Sub(s.Start).Hours() / 24

		obs := []hl7v2.OBXSpec{
			numeric("73990-7", "Battery Voltage", 2.80-0.0004*days, 3, "V"),
			numeric("8889-8", "Atrial Lead Impedance", 520+5*float64(i%3-1), 0, "Ohm"),
			numeric("8890-6", "Ventricular Lead Impedance", 610+3*float64(i), 0, "Ohm"),
			numeric("89269-2", "AF Burden", 2+1.5*float64(i), 1, "%"),
			numeric("8895-5", "Mean Heart Rate", 70+float64(i%4), 0, "bpm"),
		}
		if i == s.Count-1 {
			obs = append(obs, hl7v2.OBXSpec{
				ValueType: "ED",
				Code:      "11524-6",
				Text:      "EGM Strip",
				System:    "LN",
				Blob:      sampleStrip(),
			})
		}

		msg, err := hl7v2.GenerateORU(hl7v2.ORURequest{
			SendingApp:      "PACETRACK_SAMPLE",
			SendingFacility: "SAMPLE_CLINIC",
			MessageTime:     at,
			ControlID:       fmt.Sprintf("%s-%04d", s.PatientID, i+1),
			PatientID:       s.PatientID,
			FamilyName:      "Sample",
			GivenName:       "Patient",
			BirthDate:       time.Date(1950, 3, 14, 0, 0, 0, 0, time.UTC),
			Gender:          "F",
			Orders: []hl7v2.OBRSpec{{
				OrderID:      fmt.Sprintf("ORD%04d", i+1),
				ServiceID:    "REMOTE",
				ServiceText:  "Remote device interrogation",
				ObservedAt:   at,
				Observations: obs,
			}},
		})
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func numeric(code, text string, v float64, prec int, unit string) hl7v2.OBXSpec {
	return hl7v2.OBXSpec{
		ValueType: "NM",
		Code:      code,
		Text:      text,
		System:    "LN",
		Value:     strconv.FormatFloat(v, 'f', prec, 64),
		Unit:      unit,
	}
}

// sampleStrip is a little-endian int16 strip with a narrow spike per beat
// behind a zeroed vendor header.
func sampleStrip() []byte {
	n := sampleRate * sampleSeconds
	beat := sampleRate * sampleBeatMs / 1000
	out := make([]byte, egm.DefaultHeaderSize+2*n)
	for i := 0; i < n; i++ {
		d := float64(i%beat - beat/2)
		v := sampleSpikeMuV*math.Exp(-d*d/18) + 40*math.Sin(2*math.Pi*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(out[egm.DefaultHeaderSize+2*i:], uint16(int16(v)))
	}
	return out
}

func sampleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Write a synthetic series of ORU^R01 transmissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			patient, _ := cmd.Flags().GetString("patient")
			count, _ := cmd.Flags().GetInt("count")
			interval, _ := cmd.Flags().GetInt("interval-days")
			start, _ := cmd.Flags().GetString("start")
			dir, _ := cmd.Flags().GetString("out")

			from, err := time.Parse("2006-01-02", start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			series := sampleSeries{
				PatientID: patient,
				Count:     count,
				Interval:  time.Duration(interval) * 24 * time.Hour,
				Start:     from,
			}
			msgs, err := series.messages()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			for i, msg := range msgs {
				path := filepath.Join(dir, fmt.Sprintf("%s_%03d.hl7", patient, i+1))
				if err := os.WriteFile(path, msg, 0o644); err != nil {
					return err
				}
				fmt.Println(path)
			}
			return nil
		},
	}
	cmd.Flags().String("patient", "PT-0001", "Patient identifier")
	cmd.Flags().Int("count", 12, "Number of transmissions")
	cmd.Flags().Int("interval-days", 30, "Days between transmissions")
	cmd.Flags().String("start", "2023-01-01", "Date of the first transmission (YYYY-MM-DD)")
	cmd.Flags().String("out", ".", "Output directory")
	return cmd
}

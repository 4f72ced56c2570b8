package sample

import (
	"bufio"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/astrogo/fitsio"
)

// EncodeCSV writes the demodulator block as CSV with derived magnitude and
// phase columns, timestamps converted to relative seconds via clockbase.
func (d *Demod) EncodeCSV(w io.Writer, clockbase float64) error {
	times := d.RelativeSeconds(clockbase)
	r := d.R()
	theta := d.Theta()

	w2 := bufio.NewWriter(w)
	w3 := csv.NewWriter(w2)
	err := w3.Write([]string{"time", "x", "y", "r", "theta"})
	if err != nil {
		return err
	}
	row := make([]string, 5)
	for i := range d.X {
		row[0] = strconv.FormatFloat(times[i], 'G', -1, 64)
		row[1] = strconv.FormatFloat(d.X[i], 'G', -1, 64)
		row[2] = strconv.FormatFloat(d.Y[i], 'G', -1, 64)
		row[3] = strconv.FormatFloat(r[i], 'G', -1, 64)
		row[4] = strconv.FormatFloat(theta[i], 'G', -1, 64)
		err = w3.Write(row)
		if err != nil {
			return err
		}
	}
	w3.Flush()
	return w2.Flush()
}

// EncodeCSV writes one sweep as CSV with derived magnitude and phase.
func (s Sweep) EncodeCSV(w io.Writer) error {
	r := s.R()
	phi := s.Phi()

	w2 := bufio.NewWriter(w)
	w3 := csv.NewWriter(w2)
	err := w3.Write([]string{"grid", "x", "y", "r", "phi"})
	if err != nil {
		return err
	}
	row := make([]string, 5)
	for i := range s.Grid {
		row[0] = strconv.FormatFloat(s.Grid[i], 'G', -1, 64)
		row[1] = strconv.FormatFloat(s.X[i], 'G', -1, 64)
		row[2] = strconv.FormatFloat(s.Y[i], 'G', -1, 64)
		row[3] = strconv.FormatFloat(r[i], 'G', -1, 64)
		row[4] = strconv.FormatFloat(phi[i], 'G', -1, 64)
		err = w3.Write(row)
		if err != nil {
			return err
		}
	}
	w3.Flush()
	return w2.Flush()
}

// EncodeFITS streams the burst's value matrix to w as a 64-bit float FITS
// image, one image row per trigger.
func (b Burst) EncodeFITS(w io.Writer) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	rows := len(b.Value)
	cols := 0
	if rows > 0 {
		cols = len(b.Value[0])
	}
	im := fitsio.NewImage(-64, []int{cols, rows})
	defer im.Close()
	err = im.Header().Append(
		fitsio.Card{Name: "GRIDROWS", Value: b.Header.GridRows, Comment: "configured grid rows"},
		fitsio.Card{Name: "GRIDCOLS", Value: b.Header.GridCols, Comment: "configured grid columns"},
		fitsio.Card{Name: "FLAGS", Value: int(b.Header.Flags), Comment: "burst header flags"},
	)
	if err != nil {
		return err
	}
	flat := make([]float64, 0, rows*cols)
	for _, row := range b.Value {
		flat = append(flat, row...)
	}
	err = im.Write(flat)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

package molio

import (
	"bufio"
	"fmt"
	"io"

	"github.com/banshee-data/atomfit/internal/atoms"
)

// WriteSDF writes set as a single V2000 molfile record. Atom elements come
// from the channel symbols and every bonded pair becomes a single bond.
func WriteSDF(w io.Writer, name string, set *atoms.Set, channels []atoms.Channel) error {
	if err := set.Check(); err != nil {
		return err
	}
	pairs := set.Bonds.Pairs()
	if set.Len() > 999 || len(pairs) > 999 {
		return fmt.Errorf("molecule %s too large for V2000: %d atoms, %d bonds", name, set.Len(), len(pairs))
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n  atomfit\n\n", name)
	fmt.Fprintf(bw, "%3d%3d  0  0  0  0  0  0  0  0999 V2000\n", set.Len(), len(pairs))
	for i, p := range set.Pos {
		c := set.Channel[i]
		if c < 0 || c >= len(channels) {
			return fmt.Errorf("atom %d has channel %d outside %d channels", i, c, len(channels))
		}
		fmt.Fprintf(bw, "%10.4f%10.4f%10.4f %-3s 0  0  0  0  0  0  0  0  0  0  0  0\n",
			p.X, p.Y, p.Z, element(channels[c]))
	}
	for _, pr := range pairs {
		fmt.Fprintf(bw, "%3d%3d  1  0  0  0  0\n", pr.I+1, pr.J+1)
	}
	bw.WriteString("M  END\n$$$$\n")
	return bw.Flush()
}

func element(ch atoms.Channel) string {
	if ch.Symbol != "" {
		return ch.Symbol
	}
	return ch.Name
}

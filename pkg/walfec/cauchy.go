// pkg/walfec/cauchy.go
package walfec

import "errors"

// GF(2^8) arithmetic with the reduction polynomial 0x11D (not AES's 0x11B),
// via log/antilog tables built at init.

var (
	gfExp [512]byte
	gfLog [256]int
)

func init() {
	x := 1
	for i := 0; i < 255; i++ {
		gfExp[i] = byte(x)
		gfLog[x] = i
		x <<= 1
		if x&0x100 != 0 {
			x ^= 0x11D
		}
	}
	// Double the table so multiply never needs a mod 255.
	for i := 255; i < 512; i++ {
		gfExp[i] = gfExp[i-255]
	}
}

func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExp[gfLog[a]+gfLog[b]]
}

func gfInv(a byte) byte {
	// a must be non-zero.
	return gfExp[255-gfLog[a]]
}

func gfDiv(a, b byte) byte {
	if a == 0 {
		return 0
	}
	return gfExp[gfLog[a]+255-gfLog[b]]
}

// maxSymbols bounds K+R: the Cauchy construction needs K+R distinct
// field elements split into two disjoint sets.
const maxSymbols = 255

var errTooManySymbols = errors.New("walfec: K+R exceeds field capacity")

// cauchyMatrix builds the R x K generator of the repair symbols:
// row r, column k holds 1/(x_r XOR y_k) with x_r = k-set-disjoint
// elements. Any K rows of the stacked [I; C] matrix are invertible,
// which is what makes the code MDS.
func cauchyMatrix(k, r int) ([][]byte, error) {
	if k+r > maxSymbols {
		return nil, errTooManySymbols
	}
	m := make([][]byte, r)
	for i := 0; i < r; i++ {
		m[i] = make([]byte, k)
		x := byte(k + i)
		for j := 0; j < k; j++ {
			y := byte(j)
			m[i][j] = gfInv(x ^ y)
		}
	}
	return m, nil
}

// encodeRepair computes the R repair symbols for K equal-length source
// symbols. Each repair symbol r is the GF(2^8) dot product of matrix
// row r with the source column at every byte offset.
func encodeRepair(sources [][]byte, r int) ([][]byte, error) {
	k := len(sources)
	matrix, err := cauchyMatrix(k, r)
	if err != nil {
		return nil, err
	}
	symLen := len(sources[0])

	repairs := make([][]byte, r)
	for i := 0; i < r; i++ {
		repairs[i] = make([]byte, symLen)
		for j := 0; j < k; j++ {
			coef := matrix[i][j]
			if coef == 0 {
				continue
			}
			src := sources[j]
			dst := repairs[i]
			for b := 0; b < symLen; b++ {
				dst[b] ^= gfMul(coef, src[b])
			}
		}
	}
	return repairs, nil
}

// symbol pairs an encoding symbol ID with its data. ESIs 0..K-1 are
// source symbols; K..K+R-1 are repair symbols.
type symbol struct {
	esi  int
	data []byte
}

var errNotEnoughSymbols = errors.New("walfec: fewer than K recoverable symbols")

// decodeSources reconstructs all K source symbols from any K available
// symbols by inverting the corresponding rows of the stacked generator
// with Gaussian elimination over GF(2^8).
func decodeSources(k, r int, available []symbol) ([][]byte, error) {
	if len(available) < k {
		return nil, errNotEnoughSymbols
	}
	matrix, err := cauchyMatrix(k, r)
	if err != nil {
		return nil, err
	}

	// Build the K x K system from the first K available symbols' rows.
	rows := make([][]byte, k)
	data := make([][]byte, k)
	for i := 0; i < k; i++ {
		s := available[i]
		row := make([]byte, k)
		if s.esi < k {
			row[s.esi] = 1
		} else {
			copy(row, matrix[s.esi-k])
		}
		rows[i] = row
		d := make([]byte, len(s.data))
		copy(d, s.data)
		data[i] = d
	}

	// Forward elimination with partial pivoting.
	for col := 0; col < k; col++ {
		pivot := -1
		for i := col; i < k; i++ {
			if rows[i][col] != 0 {
				pivot = i
				break
			}
		}
		if pivot == -1 {
			return nil, errNotEnoughSymbols
		}
		rows[col], rows[pivot] = rows[pivot], rows[col]
		data[col], data[pivot] = data[pivot], data[col]

		// Normalize the pivot row.
		inv := gfInv(rows[col][col])
		for j := col; j < k; j++ {
			rows[col][j] = gfMul(rows[col][j], inv)
		}
		for b := range data[col] {
			data[col][b] = gfMul(data[col][b], inv)
		}

		// Eliminate the column from every other row.
		for i := 0; i < k; i++ {
			if i == col || rows[i][col] == 0 {
				continue
			}
			coef := rows[i][col]
			for j := col; j < k; j++ {
				rows[i][j] ^= gfMul(coef, rows[col][j])
			}
			for b := range data[i] {
				data[i][b] ^= gfMul(coef, data[col][b])
			}
		}
	}

	return data, nil
}

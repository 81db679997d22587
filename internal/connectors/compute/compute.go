// Package compute provides the built-in compute task bodies.
package compute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/fentz26/taskhive/internal/connectors"
)

// Limits on input sizes for the unbounded bodies.
const (
	maxFactorialN = 20000
	maxFibonacciN = 10000
)

// Func computes a result from a decoded payload.
type Func func(ctx context.Context, payload json.RawMessage) (any, error)

// Compute implements connectors.Connector over a table of compute bodies.
type Compute struct {
	funcs map[string]Func
}

var _ connectors.Connector = (*Compute)(nil)

// New returns a connector with every built-in body registered.
func New() *Compute {
	return &Compute{funcs: map[string]Func{
		"sort":         runSort,
		"sleep":        runSleep,
		"matmul":       runMatmul,
		"sum":          runSum,
		"factorial":    runFactorial,
		"fibonacci":    runFibonacci,
		"reverse":      runReverse,
		"isprime":      runIsPrime,
		"count_vowels": runCountVowels,
		"gcd":          runGCD,
	}}
}

// Register adds or replaces the body for taskType.
func (c *Compute) Register(taskType string, fn Func) {
	c.funcs[taskType] = fn
}

// Types returns the registered task types, sorted.
func (c *Compute) Types() []string {
	types := make([]string, 0, len(c.funcs))
	for t := range c.funcs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Name returns the connector identifier.
func (c *Compute) Name() string {
	return "compute"
}

// IsAllowed reports whether a body is registered for taskType.
func (c *Compute) IsAllowed(taskType string) bool {
	_, ok := c.funcs[taskType]
	return ok
}

// Execute runs the body registered for taskType.
func (c *Compute) Execute(ctx context.Context, taskType string, payload json.RawMessage) (json.RawMessage, error) {
	fn, ok := c.funcs[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", connectors.ErrUnsupportedType, taskType)
	}
	out, err := fn(ctx, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func runSort(_ context.Context, payload json.RawMessage) (any, error) {
	p := struct {
		Array []float64 `json:"array"`
	}{Array: []float64{}}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	sort.Float64s(p.Array)
	return p.Array, nil
}

func runSleep(ctx context.Context, payload json.RawMessage) (any, error) {
	p := struct {
		Seconds float64 `json:"seconds"`
	}{Seconds: 1}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if p.Seconds < 0 {
		return nil, errors.New("seconds must not be negative")
	}

	timer := time.NewTimer(time.Duration(p.Seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return map[string]float64{"slept": p.Seconds}, nil
}

func runMatmul(_ context.Context, payload json.RawMessage) (any, error) {
	var p struct {
		A [][]float64 `json:"A"`
		B [][]float64 `json:"B"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if len(p.A) == 0 || len(p.B) == 0 || len(p.A[0]) == 0 || len(p.B[0]) == 0 {
		return nil, errors.New("empty matrices")
	}
	rowsA, colsA, rowsB, colsB := len(p.A), len(p.A[0]), len(p.B), len(p.B[0])
	for _, row := range p.A {
		if len(row) != colsA {
			return nil, errors.New("matrix A is ragged")
		}
	}
	for _, row := range p.B {
		if len(row) != colsB {
			return nil, errors.New("matrix B is ragged")
		}
	}
	if colsA != rowsB {
		return nil, fmt.Errorf("incompatible matrices: %dx%d * %dx%d", rowsA, colsA, rowsB, colsB)
	}

	c := make([][]float64, rowsA)
	for i := range c {
		c[i] = make([]float64, colsB)
		for j := 0; j < colsB; j++ {
			var sum float64
			for k := 0; k < colsA; k++ {
				sum += p.A[i][k] * p.B[k][j]
			}
			c[i][j] = sum
		}
	}
	return c, nil
}

func runSum(_ context.Context, payload json.RawMessage) (any, error) {
	var p struct {
		Numbers []float64 `json:"numbers"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	var total float64
	for _, n := range p.Numbers {
		total += n
	}
	return total, nil
}

func runFactorial(_ context.Context, payload json.RawMessage) (any, error) {
	p := struct {
		N int64 `json:"n"`
	}{N: 5}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if p.N > maxFactorialN {
		return nil, fmt.Errorf("n must be at most %d", maxFactorialN)
	}
	fact := big.NewInt(1)
	if p.N >= 2 {
		fact.MulRange(2, p.N)
	}
	return fact, nil
}

func runFibonacci(_ context.Context, payload json.RawMessage) (any, error) {
	p := struct {
		N int `json:"n"`
	}{N: 10}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if p.N > maxFibonacciN {
		return nil, fmt.Errorf("n must be at most %d", maxFibonacciN)
	}
	seq := make([]*big.Int, 0, max(p.N, 0))
	a, b := big.NewInt(0), big.NewInt(1)
	for i := 0; i < p.N; i++ {
		seq = append(seq, new(big.Int).Set(a))
		a.Add(a, b)
		a, b = b, a
	}
	return seq, nil
}

func runReverse(_ context.Context, payload json.RawMessage) (any, error) {
	var p struct {
		Text string `json:"text"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	r := []rune(p.Text)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r), nil
}

// primeCheckEvery is how many trial divisions run between context checks.
const primeCheckEvery = 1 << 16

func runIsPrime(ctx context.Context, payload json.RawMessage) (any, error) {
	p := struct {
		N int64 `json:"n"`
	}{N: 7}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if p.N < 2 {
		return false, nil
	}
	limit := int64(math.Sqrt(float64(p.N)))
	for i := int64(2); i <= limit; i++ {
		if i%primeCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if p.N%i == 0 {
			return false, nil
		}
	}
	return true, nil
}

func runCountVowels(_ context.Context, payload json.RawMessage) (any, error) {
	var p struct {
		Text string `json:"text"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	n := 0
	for _, c := range p.Text {
		if strings.ContainsRune("aeiouAEIOU", c) {
			n++
		}
	}
	return n, nil
}

func runGCD(_ context.Context, payload json.RawMessage) (any, error) {
	p := struct {
		A int64 `json:"a"`
		B int64 `json:"b"`
	}{A: 10, B: 20}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	a, b := p.A, p.B
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a, nil
}

//go:build linux

package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemArg(t *testing.T) {
	page := int64(os.Getpagesize())
	cases := []struct {
		arg  string
		want int64
		bad  bool
	}{
		{arg: "0", want: 0},
		{arg: "2G", want: 2147483648},
		{arg: "2g", want: 2147483648},
		{arg: "1K", want: page},   // 1024 rounds up to one page
		{arg: "1", want: page},    // raw bytes round up too
		{arg: "4096", want: 4096}, // already aligned on 4K-page machines
		{arg: "3M", want: 3 << 20},
		{arg: "1T", want: 1 << 40},
		{arg: "", bad: true},
		{arg: "-1", bad: true},
		{arg: "abc", bad: true},
		{arg: "1X", bad: true},
		{arg: "1KB", bad: true},
		{arg: "K", bad: true},
		{arg: "99999999999T", bad: true}, // overflow
	}
	for _, tc := range cases {
		t.Run(tc.arg, func(t *testing.T) {
			got, err := parseMemArg(tc.arg)
			if tc.bad {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.arg == "4096" && page != 4096 {
				t.Skip("page size is not 4K here")
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCPUArg(t *testing.T) {
	n, err := parseCPUArg("0")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = parseCPUArg("12")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = parseCPUArg("-1")
	assert.Error(t, err)
	_, err = parseCPUArg("two")
	assert.Error(t, err)
	_, err = parseCPUArg("")
	assert.Error(t, err)
}

package looptrace

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
)

func TestDeduplicatePackages(t *testing.T) {
	tests := []struct {
		name     string
		input    []*packages.Package
		expected []string // IDs after deduplication, by import path
	}{
		{
			name: "regular_and_test_variant",
			input: []*packages.Package{
				{PkgPath: "example.com/pkg", ID: "example.com/pkg"},
				{PkgPath: "example.com/pkg", ID: "example.com/pkg [example.com/pkg.test]"},
			},
			expected: []string{"example.com/pkg [example.com/pkg.test]"},
		},
		{
			name: "test_variant_first",
			input: []*packages.Package{
				{PkgPath: "example.com/pkg", ID: "example.com/pkg [example.com/pkg.test]"},
				{PkgPath: "example.com/pkg", ID: "example.com/pkg"},
			},
			expected: []string{"example.com/pkg [example.com/pkg.test]"},
		},
		{
			name: "test_binary_filtered",
			input: []*packages.Package{
				{PkgPath: "example.com/pkg", ID: "example.com/pkg"},
				{PkgPath: "example.com/pkg.test", ID: "example.com/pkg.test"},
			},
			expected: []string{"example.com/pkg"},
		},
		{
			name: "external_test_package",
			input: []*packages.Package{
				{PkgPath: "example.com/pkg_test", ID: "example.com/pkg_test [example.com/pkg.test]"},
				{PkgPath: "example.com/pkg", ID: "example.com/pkg"},
			},
			expected: []string{"example.com/pkg", "example.com/pkg_test [example.com/pkg.test]"},
		},
		{
			name: "only_regular_package",
			input: []*packages.Package{
				{PkgPath: "example.com/pkg", ID: "example.com/pkg"},
			},
			expected: []string{"example.com/pkg"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, pkg := range deduplicatePackages(tt.input) {
				ids = append(ids, pkg.ID)
			}
			require.Equal(t, tt.expected, ids)
		})
	}
}

func TestIsTestBinary(t *testing.T) {
	require.True(t, isTestBinary(&packages.Package{ID: "example.com/pkg.test"}))
	require.False(t, isTestBinary(&packages.Package{ID: "example.com/pkg"}))
	require.False(t, isTestBinary(&packages.Package{ID: "example.com/pkg [example.com/pkg.test]"}))
}

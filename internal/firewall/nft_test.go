package firewall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svcgate/svcgate/internal/retry"
)

func fastNFT(runner CommandRunner) *NFT {
	b := NewNFT(&Config{Backend: "nft"}, runner, testLogger())
	b.statusPolicy = retry.Policy{Attempts: 3, Interval: time.Millisecond}
	return b
}

const nftChainListing = `table inet svcgate {
	chain input {
		type filter hook input priority filter; policy accept;
		tcp dport 51413 accept
	}
}
`

const nftChainListingHandles = `table inet svcgate { # handle 12
	chain input { # handle 1
		type filter hook input priority filter; policy accept;
		tcp dport 51413 accept # handle 7
		udp dport 51413 accept # handle 9
	}
}
`

func TestNFTQueryStatusRendersFamilyPair(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Output", "nft", "list", "chain", "inet", "svcgate", "input").
		Return([]byte(nftChainListing), nil)

	b := fastNFT(runner)
	listing, err := b.QueryStatus(context.Background())

	require.NoError(t, err)
	assert.Contains(t, listing, "Status: active")
	// One inet rule shows up as an IPv4 and an IPv6 line.
	assert.Contains(t, listing, "51413 ")
	assert.Contains(t, listing, "51413 (v6)")
}

func TestNFTQueryStatusInactiveWhenTableMissing(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Output", "nft", "list", "chain", "inet", "svcgate", "input").
		Return([]byte("Error: No such file or directory\n"), errors.New("exit status 1"))

	b := fastNFT(runner)
	listing, err := b.QueryStatus(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "Status: inactive\n", listing)
	runner.AssertNumberOfCalls(t, "Output", 1)
}

func TestNFTQueryNumberedUsesHandles(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Output", "nft", "-a", "list", "chain", "inet", "svcgate", "input").
		Return([]byte(nftChainListingHandles), nil)

	b := fastNFT(runner)
	listing, err := b.QueryNumbered(context.Background())

	require.NoError(t, err)
	assert.Contains(t, listing, "[ 7] 51413")
	assert.Contains(t, listing, "[ 9] 51413")
}

func TestNFTSetEnabled(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Output", "nft", "add", "table", "inet", "svcgate").Return([]byte{}, nil)
	runner.On("Output", "nft", "add", "chain", "inet", "svcgate", "input",
		"{ type filter hook input priority 0 ; policy accept ; }").Return([]byte{}, nil)

	b := fastNFT(runner)
	require.NoError(t, b.SetEnabled(context.Background(), true))
	runner.AssertExpectations(t)
}

func TestNFTAllowPort(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Output", "nft", "add", "rule", "inet", "svcgate", "input",
		"tcp", "dport", "51413", "accept").Return([]byte{}, nil)

	b := fastNFT(runner)
	require.NoError(t, b.AllowPort(context.Background(), 51413, "tcp"))
	runner.AssertExpectations(t)
}

func TestNFTDeletePortDeletesEveryHandle(t *testing.T) {
	runner := new(MockCommandRunner)
	runner.On("Output", "nft", "-a", "list", "chain", "inet", "svcgate", "input").
		Return([]byte(nftChainListingHandles), nil)
	runner.On("Output", "nft", "delete", "rule", "inet", "svcgate", "input", "handle", "7").
		Return([]byte{}, nil)
	runner.On("Output", "nft", "delete", "rule", "inet", "svcgate", "input", "handle", "9").
		Return([]byte{}, nil)

	b := fastNFT(runner)
	require.NoError(t, b.DeletePort(context.Background(), 51413, "tcp"))
	runner.AssertExpectations(t)
}

func TestNFTProfilesUnsupported(t *testing.T) {
	b := fastNFT(new(MockCommandRunner))

	assert.False(t, b.SupportsProfile(context.Background(), "Transmission"))
	assert.ErrorIs(t, b.AllowProfile(context.Background(), "Transmission"), ErrProfilesUnsupported)
	assert.ErrorIs(t, b.DeleteProfile(context.Background(), "Transmission"), ErrProfilesUnsupported)
}

// Command triecheck is a small harness exercising the authenticated state
// layer end-to-end: it reads a newline-delimited "key,value" file, builds a
// trie both by inserting one-by-one into the random-access engine and by
// streaming the same pairs through the sorted-input builder, and reports
// whether the two roots agree.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lambdaclass/ethrex-statetrie/log"
	"github.com/lambdaclass/ethrex-statetrie/trie"
)

func main() {
	input := flag.String("input", "", "path to a newline-delimited key,value file (keys are hashed with keccak256)")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: triecheck -input pairs.csv")
		os.Exit(2)
	}
	if *verbose {
		log.SetDefault(log.New(slog.LevelDebug))
	}

	pairs, err := readPairs(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "triecheck: %v\n", err)
		os.Exit(1)
	}

	engineRoot, err := buildViaEngine(pairs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "triecheck: engine build: %v\n", err)
		os.Exit(1)
	}

	sort.Slice(pairs, func(i, j int) bool {
		return strings.Compare(string(pairs[i].hashedKey[:]), string(pairs[j].hashedKey[:])) < 0
	})
	builderRoot, err := buildViaBuilder(pairs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "triecheck: builder build: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("engine root:  %s\n", engineRoot.Hex())
	fmt.Printf("builder root: %s\n", builderRoot.Hex())
	if engineRoot != builderRoot {
		fmt.Fprintln(os.Stderr, "triecheck: MISMATCH")
		os.Exit(1)
	}
	fmt.Println("triecheck: roots match")
}

type pair struct {
	hashedKey common.Hash
	value     []byte
}

func readPairs(path string) ([]pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pairs []pair
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		value, err := hex.DecodeString(strings.TrimPrefix(parts[1], "0x"))
		if err != nil {
			return nil, fmt.Errorf("decoding value in %q: %w", line, err)
		}
		h := crypto.Keccak256Hash([]byte(parts[0]))
		pairs = append(pairs, pair{hashedKey: h, value: value})
	}
	return pairs, scanner.Err()
}

func buildViaEngine(pairs []pair) (common.Hash, error) {
	t := trie.New()
	for _, p := range pairs {
		if err := t.Insert(p.hashedKey[:], p.value); err != nil {
			return common.Hash{}, err
		}
	}
	return t.HashNoCommit()
}

func buildViaBuilder(pairs []pair) (common.Hash, error) {
	store := trie.NewMemStore()
	ch := make(chan trie.KV)
	go func() {
		defer close(ch)
		for _, p := range pairs {
			ch <- trie.KV{Key: p.hashedKey, Value: p.value}
		}
	}()
	return trie.BuildFromSorted(store, ch)
}

// genstats prints the theoretical batch-failure probability curve for a
// range of redundancy ratios, a calculator kept external to the transport
// core.
package main

import (
	"flag"
	"fmt"

	"github.com/minor-way/perfectsock/internal/batch"
)

func main() {
	k := flag.Int("k", 4, "data-fragment count")
	maxRatio := flag.Int("max-ratio", 4, "largest redundancy ratio (n = k*ratio) to print")
	p := flag.Float64("loss", 0.1, "per-fragment loss probability")
	flag.Parse()

	fmt.Printf("k=%d, per-fragment loss p=%.3f\n", *k, *p)
	fmt.Println("ratio\tn\tfailure_probability")
	for ratio := 1; ratio <= *maxRatio; ratio++ {
		n := *k * ratio
		fmt.Printf("%d\t%d\t%.6e\n", ratio, n, batch.FailureProbability(n, *k, *p))
	}
}

// src/parsers/factory.go
package parsers

import (
	"fmt"

	"github.com/williams2w4/tradej/src/parsers/degiro"
	"github.com/williams2w4/tradej/src/parsers/ibkr"
)

func GetParser(broker string) (Parser, error) {
	switch broker {
	case "ibkr":
		return ibkr.NewParser(), nil
	case "degiro":
		return degiro.NewParser(), nil
	default:
		return nil, fmt.Errorf("no parser available for broker: %s", broker)
	}
}

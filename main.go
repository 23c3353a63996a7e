package main

import "github.com/arcward/osuconcierge/cmd"

func main() {
	cmd.Execute()
}

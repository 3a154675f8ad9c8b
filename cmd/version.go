package cmd

// Version is set at build time:
// go build -ldflags "-X github.com/Eggwite/megacloud-key-extractor/cmd.Version=1.0.0"
var Version = "dev"

// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"

	"github.com/jingle-go/jingle-go/pkg/filetransfer"
	"github.com/jingle-go/jingle-go/pkg/jingle"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core      coreConf
	Logging   logConf
	Websocket websocketConf
	Rest      restConf
	Transport []transportConf
	Files     filesConf
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	Jid     string
	Journal string

	// Retention of terminated sessions in the journal as a duration, e.g., "168h"; empty keeps them forever.
	Retention string

	// SelfTest connects the Manager to an in-process peer instead of a WebSocket.
	SelfTest bool `toml:"self-test"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// websocketConf describes the WebSocket substrate. Either Listen or Dial must be set.
type websocketConf struct {
	Listen string
	Dial   string
}

// restConf describes the REST API.
type restConf struct {
	Listen string
}

// transportConf describes a transport method, used for each "transport" block.
type transportConf struct {
	Protocol  string
	Listen    string
	Advertise []string
	Priority  int
}

// filesConf describes the file transfer application.
type filesConf struct {
	Incoming   string
	MaxSize    uint64 `toml:"max-size"`
	Outbox     string
	OutboxPeer string `toml:"outbox-peer"`
	Compress   bool
	Hash       string
}

// retention of terminated sessions in the journal, zero for no pruning.
func (cc coreConf) retention() (time.Duration, error) {
	if cc.Retention == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(cc.Retention)
	if err != nil {
		return 0, fmt.Errorf("core.retention: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("core.retention %v is not positive", d)
	}
	return d, nil
}

// offerOptions of the configured file transfers.
func (fc filesConf) offerOptions() filetransfer.OfferOptions {
	return filetransfer.OfferOptions{
		HashAlgo: fc.Hash,
		Compress: fc.Compress,
	}
}

// parseConfig reads a TOML configuration and configures the logger.
func parseConfig(filename string) (conf tomlConfig, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	configureLogging(conf.Logging)

	if !jingle.Address(conf.Core.Jid).Valid() {
		err = fmt.Errorf("core.jid %q is not a valid address", conf.Core.Jid)
		return
	}
	if _, err = conf.Core.retention(); err != nil {
		return
	}
	if conf.Core.Retention != "" && conf.Core.Journal == "" {
		err = fmt.Errorf("core.retention requires core.journal")
		return
	}
	if conf.Files.Incoming == "" {
		err = fmt.Errorf("files.incoming is empty")
		return
	}
	if conf.Files.Hash != "" && conf.Files.Hash != filetransfer.SHA256 && conf.Files.Hash != filetransfer.Blake3256 {
		err = fmt.Errorf("files.hash %q is neither %s nor %s", conf.Files.Hash, filetransfer.SHA256, filetransfer.Blake3256)
		return
	}
	if (conf.Files.Outbox == "") != (conf.Files.OutboxPeer == "") {
		err = fmt.Errorf("files.outbox and files.outbox-peer must be set together")
		return
	}

	switch {
	case conf.Core.SelfTest:
	case conf.Websocket.Listen != "" && conf.Websocket.Dial != "":
		err = fmt.Errorf("websocket.listen and websocket.dial are mutually exclusive")
	case conf.Websocket.Listen == "" && conf.Websocket.Dial == "":
		err = fmt.Errorf("neither websocket.listen nor websocket.dial is set")
	}
	return
}

// configureLogging sets logrus' level, caller reporting and format.
func configureLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

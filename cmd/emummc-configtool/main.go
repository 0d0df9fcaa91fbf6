// https://github.com/lulle2007200/emummc
//
// Copyright (c) The emummc Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command emummc-configtool is the companion boot-payload tool
// ("CLI and environment"): it reads emummc/emummc.ini and emusd/emusd.ini
// (keys enabled, id, sector, path, nintendo_path) and produces the binary
// configuration record the core's config.Record.Validate consumes.
package main

import (
	"os"

	log "github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/lulle2007200/emummc/config"
)

type options struct {
	EMMCIni string `long:"emummc-ini" description:"path to emummc.ini" required:"true"`
	SDIni   string `long:"emusd-ini" description:"path to emusd.ini"`
	Output  string `short:"o" long:"output" description:"path to write the binary configuration record to" required:"true"`
	ID      uint32 `long:"id" description:"record ID" default:"0"`
}

// iniSection is the raw shape of one of the two ini files: id is
// the redirection type (the same numbering as config.RedirType), sector the
// partition-backed start sector, path/nintendo_path the file-backed
// directories.
type iniSection struct {
	Enabled      bool
	Type         uint32
	Sector       uint64
	Path         string
	NintendoPath string
}

func loadSection(path string) (iniSection, error) {
	var sec iniSection
	if path == "" {
		return sec, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return sec, errors.Wrapf(err, "configtool: load %s", path)
	}

	section := cfg.Section("")
	sec.Enabled = section.Key("enabled").MustBool(false)
	sec.Type = uint32(section.Key("id").MustUint(uint(config.RedirNone)))
	sec.Sector = section.Key("sector").MustUint64(0)
	sec.Path = section.Key("path").String()
	sec.NintendoPath = section.Key("nintendo_path").String()
	return sec, nil
}

func copyCString(dst []byte, s string) error {
	if len(s) >= len(dst) {
		return errors.Errorf("configtool: string %q exceeds field size %d", s, len(dst)-1)
	}
	copy(dst, s)
	return nil
}

func main() {
	defer func() {
		if state := recover(); state != nil {
			err, ok := state.(error)
			if !ok {
				panic(state)
			}
			log.PrintError(log.Wrap(err))
			os.Exit(1)
		}
	}()

	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	emmc, err := loadSection(opts.EMMCIni)
	log.PanicIf(err)

	sd, err := loadSection(opts.SDIni)
	log.PanicIf(err)

	rec := config.Record{
		Magic: config.Magic,
		ID:    opts.ID,
	}

	if emmc.Enabled {
		rec.EMMCType = config.RedirType(emmc.Type)
		rec.EMMCStart = emmc.Sector
	}
	if sd.Enabled {
		rec.SDType = config.RedirType(sd.Type)
		rec.SDStart = sd.Sector
	}

	// Both ini files may name a directory; emummc.ini wins when both do,
	// since the record has a single shared path pair.
	path, nintendoPath := sd.Path, sd.NintendoPath
	if emmc.Path != "" {
		path = emmc.Path
	}
	if emmc.NintendoPath != "" {
		nintendoPath = emmc.NintendoPath
	}

	log.PanicIf(copyCString(rec.Path[:], path))
	log.PanicIf(copyCString(rec.NintendoPath[:], nintendoPath))

	buf, err := rec.Pack()
	log.PanicIf(err)

	log.PanicIf(os.WriteFile(opts.Output, buf, 0o644))
}

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/aligator/fatslack"
	"github.com/aligator/fatslack/checkpoint"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

type state struct {
	fs      afero.Fs
	opts    fatslack.Options
	session *fatslack.Session
	slot    int
}

func (s *state) close() {
	if s.session != nil {
		_ = s.session.Close()
		s.session = nil
	}
}

func (s *state) volume(c *ishell.Context) (*fatslack.Volume, bool) {
	if s.session == nil {
		c.Println("no image opened, use 'open <image>'")
		return nil, false
	}
	v, err := s.session.Volume(s.slot)
	if err != nil {
		printErr(c, err)
		return nil, false
	}
	return v, true
}

func printErr(c *ishell.Context, err error) {
	c.Printf("%v: %s\n", fatslack.ClassOf(err), checkpoint.Message(err))
	logrus.Debug(err)
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if os.Getenv("FATSLACK_DEBUG") != "" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	st := &state{
		fs:   afero.NewOsFs(),
		opts: fatslack.DefaultOptions(),
	}
	defer st.close()

	shell := ishell.New()
	shell.SetPrompt("fat > ")

	if len(os.Args) > 1 {
		open(st, shell, os.Args[1])
	}

	shell.AddCmd(&ishell.Cmd{
		Name: "open",
		Help: "open <image>: open a disk image",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Println("expected 1 argument")
				return
			}
			open(st, shell, c.Args[0])
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "skip",
		Help: "skip: toggle the strict boot sector checks, applies to the next open",
		Func: func(c *ishell.Context) {
			st.opts.SkipChecks = !st.opts.SkipChecks
			c.Printf("skip checks: %v\n", st.opts.SkipChecks)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "print",
		Help: "print: print the disk and volume layout",
		Func: func(c *ishell.Context) { printLayout(c, st) },
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "part",
		Help: "part <slot>: select the partition table slot to analyse",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Println("expected 1 argument")
				return
			}
			slot, err := strconv.Atoi(c.Args[0])
			if err != nil {
				c.Println("the slot must be a number")
				return
			}
			st.slot = slot
			if v, ok := st.volume(c); ok {
				printBootSector(c, v.Boot)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "tree",
		Help: "tree: print the directory tree of the selected partition",
		Func: func(c *ishell.Context) { printTree(c, st) },
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "ls",
		Help: "ls: list all files of the selected partition with size and modification time",
		Func: func(c *ishell.Context) { list(c, st) },
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "cat",
		Help: "cat <path>: print the content of a file up to its recorded size",
		Func: func(c *ishell.Context) { cat(c, st) },
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "chain",
		Help: "chain <path>: print the cluster chain of a file",
		Func: func(c *ishell.Context) { printChain(c, st) },
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "slack",
		Help: "slack <kind> [path|clusters]: locate a region, bad-cluster marks free clusters as bad",
		Func: func(c *ishell.Context) {
			if r, ok := locate(c, st); ok {
				c.Println(r)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "hide",
		Help: "hide <file> <kind> [path]: write a host file into a region",
		Func: func(c *ishell.Context) { hide(c, st) },
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "dump",
		Help: "dump <kind> [path|cluster]: print the content of a region",
		Func: func(c *ishell.Context) { dump(c, st) },
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "bad",
		Help: "bad: list all clusters marked bad",
		Func: func(c *ishell.Context) {
			v, ok := st.volume(c)
			if !ok {
				return
			}
			bad, err := v.Table().BadClusters()
			if err != nil {
				printErr(c, err)
				return
			}
			c.Printf("%d bad clusters: %v\n", len(bad), bad)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "write",
		Help: "write <file> <sector>: write a host file to a 512 byte sector of the image",
		Func: func(c *ishell.Context) { writeRaw(c, st) },
	})

	shell.Run()
}

func open(st *state, shell *ishell.Shell, p string) {
	st.close()

	img, err := fatslack.OpenImage(st.fs, p)
	if err != nil {
		shell.Printf("could not open %s: %s\n", p, checkpoint.Message(err))
		return
	}

	session, err := fatslack.NewSession(img, st.opts)
	if err != nil {
		_ = img.Close()
		shell.Printf("%v: %s\n", fatslack.ClassOf(err), checkpoint.Message(err))
		return
	}

	st.session = session
	st.slot, err = session.MBR().FirstUsed()
	if err != nil {
		st.slot = 0
	}
	shell.Printf("opened %s (%d bytes), partition %d selected\n", p, img.Size(), st.slot)
}

func printRows(c *ishell.Context, title string, rows []fatslack.LayoutRow) {
	c.Printf("%s\n", title)
	c.Printf("  %-12s %12s %12s  %s\n", "Region", "Start", "End", "Description")
	for _, r := range rows {
		c.Printf("  %-12s %12d %12d  %s\n", r.Region, r.Start/fatslack.MBRSectorSize, r.End/fatslack.MBRSectorSize, r.Description)
	}
}

func printLayout(c *ishell.Context, st *state) {
	if st.session == nil {
		c.Println("no image opened, use 'open <image>'")
		return
	}

	disk := st.session.Layout()
	printRows(c, fmt.Sprintf("Master Boot Record Layout (%d sectors, signature 0x%04X)",
		disk.Size/fatslack.MBRSectorSize, disk.BootSignature), disk.Rows)

	for _, slot := range st.session.MBR().UsedEntries() {
		v, err := st.session.Volume(slot)
		if err != nil {
			c.Printf("\npartition %d: ", slot)
			printErr(c, err)
			continue
		}
		c.Println()
		printRows(c, fmt.Sprintf("FAT32 Partition Layout (slot %d)", slot), v.Layout().Rows)
	}
}

func printBootSector(c *ishell.Context, bs *fatslack.BootSector) {
	c.Printf("OEM %q, label %q, type %q\n", bs.OEMName, bs.VolumeLabel, bs.FSTypeLabel)
	c.Printf("bytes/sector %d, sectors/cluster %d, reserved %d, FATs %d x %d sectors\n",
		bs.BytesPerSector, bs.SectorsPerCluster, bs.ReservedSectorCount, bs.NumFATs, bs.SectorsPerFAT32)
	c.Printf("total sectors %d, clusters %d, root cluster %d\n", bs.TotalSectors32, bs.ClusterCount(), bs.RootDirCluster)
	for _, w := range bs.Warnings {
		c.Printf("warning: %s\n", w)
	}
}

func printTree(c *ishell.Context, st *state) {
	v, ok := st.volume(c)
	if !ok {
		return
	}
	tree, err := v.Tree()
	if err != nil {
		printErr(c, err)
		return
	}

	_ = tree.Walk(func(idx int, n *fatslack.Node) error {
		if idx == fatslack.RootNode {
			c.Println("/")
			return nil
		}
		c.Printf("%s%-12s %s %10d  cluster %d\n",
			strings.Repeat("  ", n.Depth), n.Entry.Name, n.Entry.Attr, n.Entry.Size, n.Entry.FirstCluster)
		return nil
	})
}

func list(c *ishell.Context, st *state) {
	v, ok := st.volume(c)
	if !ok {
		return
	}
	fatFs, err := v.Fs()
	if err != nil {
		printErr(c, err)
		return
	}

	err = afero.Walk(fatFs, "", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		c.Printf("%-30s %-10v %10d  %s\n", path, info.Mode(), info.Size(), info.ModTime().Format("2006-01-02 15:04:05"))
		return nil
	})
	if err != nil {
		printErr(c, err)
	}
}

func cat(c *ishell.Context, st *state) {
	if len(c.Args) != 1 {
		c.Println("expected 1 argument")
		return
	}
	v, ok := st.volume(c)
	if !ok {
		return
	}
	fatFs, err := v.Fs()
	if err != nil {
		printErr(c, err)
		return
	}

	data, err := afero.ReadFile(fatFs, c.Args[0])
	if err != nil {
		printErr(c, err)
		return
	}
	c.Println(string(data))
}

func printChain(c *ishell.Context, st *state) {
	if len(c.Args) != 1 {
		c.Println("expected 1 argument")
		return
	}
	v, ok := st.volume(c)
	if !ok {
		return
	}
	e, err := v.FindFile(c.Args[0])
	if err != nil {
		printErr(c, err)
		return
	}
	chain, err := v.Table().FollowChain(e.FirstCluster)
	if err != nil {
		printErr(c, err)
		return
	}
	c.Printf("%s: %v\n", e.Name, chain)
}

func locate(c *ishell.Context, st *state) (fatslack.Region, bool) {
	if len(c.Args) < 1 {
		c.Println("expected a region kind: post-mbr, volume-slack, file-slack or bad-cluster")
		return fatslack.Region{}, false
	}
	if st.session == nil {
		c.Println("no image opened, use 'open <image>'")
		return fatslack.Region{}, false
	}

	kind, err := fatslack.ParseRegionKind(c.Args[0])
	if err != nil {
		printErr(c, err)
		return fatslack.Region{}, false
	}

	req := fatslack.SlackRequest{Kind: kind, Partition: st.slot}
	if len(c.Args) > 1 {
		switch kind {
		case fatslack.FileSlack:
			req.Path = c.Args[1]
		case fatslack.BadCluster:
			req.Clusters, err = strconv.Atoi(c.Args[1])
			if err != nil {
				c.Println("the cluster count must be a number")
				return fatslack.Region{}, false
			}
		}
	}

	r, err := fatslack.LocateSlack(st.session, req)
	if err != nil {
		printErr(c, err)
		return fatslack.Region{}, false
	}
	return r, true
}

func hide(c *ishell.Context, st *state) {
	if len(c.Args) < 2 {
		c.Println("expected at least 2 arguments")
		return
	}
	data, err := afero.ReadFile(st.fs, c.Args[0])
	if err != nil {
		c.Err(err)
		return
	}

	// The payload size decides how many clusters are needed.
	args := c.Args[1:]
	if kind, err := fatslack.ParseRegionKind(args[0]); err == nil && kind == fatslack.BadCluster {
		v, ok := st.volume(c)
		if !ok {
			return
		}
		args = []string{args[0], strconv.Itoa(v.ClustersFor(len(data)))}
	}
	c.Args = args

	r, ok := locate(c, st)
	if !ok {
		return
	}
	written, err := st.session.WriteRegion(r, data)
	if err != nil {
		printErr(c, err)
		return
	}
	c.Printf("wrote %d bytes to %v\n", len(data), written)
}

func dump(c *ishell.Context, st *state) {
	if len(c.Args) < 1 || st.session == nil {
		c.Println("expected a region kind and an opened image")
		return
	}

	var (
		r   fatslack.Region
		err error
	)
	kind, err := fatslack.ParseRegionKind(c.Args[0])
	if err != nil {
		printErr(c, err)
		return
	}

	if kind == fatslack.BadCluster {
		// Do not mark new clusters, show an existing one.
		if len(c.Args) != 2 {
			c.Println("expected the bad cluster number")
			return
		}
		v, ok := st.volume(c)
		if !ok {
			return
		}
		cluster, err := strconv.ParseUint(c.Args[1], 10, 32)
		if err != nil {
			c.Println("the cluster must be a number")
			return
		}
		r, err = v.RegionForBadCluster(uint32(cluster))
		if err != nil {
			printErr(c, err)
			return
		}
	} else {
		var ok bool
		r, ok = locate(c, st)
		if !ok {
			return
		}
	}

	data, err := st.session.ReadRegion(r)
	if err != nil {
		printErr(c, err)
		return
	}
	c.Printf("%v\n%q\n", r, strings.TrimRight(string(data), "\x00"))
}

func writeRaw(c *ishell.Context, st *state) {
	if len(c.Args) != 2 || st.session == nil {
		c.Println("expected a file, a sector and an opened image")
		return
	}
	data, err := afero.ReadFile(st.fs, c.Args[0])
	if err != nil {
		c.Err(err)
		return
	}
	sector, err := strconv.ParseInt(c.Args[1], 10, 64)
	if err != nil {
		c.Println("the sector must be a number")
		return
	}

	r := fatslack.Region{Offset: sector * fatslack.MBRSectorSize, Length: int64(len(data))}
	written, err := st.session.WriteRegion(r, data)
	if err != nil {
		printErr(c, err)
		return
	}
	c.Printf("wrote %d bytes at %d\n", len(data), written.Offset)
}

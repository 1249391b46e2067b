package graph

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LocalFiles names the three files written by SaveLocal.
type LocalFiles struct {
	EdgeList string
	Dimacs   string
	Meta     string
}

func localFileNames(dir, name string, hostID, numHosts uint32) LocalFiles {
	part := fmt.Sprintf("PART.%d.OF.%d", hostID, numHosts)
	return LocalFiles{
		EdgeList: filepath.Join(dir, fmt.Sprintf("graph_GID_%s.edgelist.%s", name, part)),
		Dimacs:   filepath.Join(dir, fmt.Sprintf("graph_LID_%s.dimacs.%s", name, part)),
		Meta:     filepath.Join(dir, fmt.Sprintf("%s.gr.META.%d.OF.%d", name, hostID, numHosts)),
	}
}

// SaveLocal dumps the edges of the owned nodes as a global ID edge list
// ("src dst host"), as a 1-based local ID DIMACS file, and writes a
// binary meta file: numOwned:u64 then gid:u64 lid:u64 owner:u64 per
// owned node.
func (l *Local) SaveLocal(dir, name string) (LocalFiles, error) {
	files := localFileNames(dir, name, l.hostID, l.numHosts)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return files, errors.Wrapf(err, "create %s", dir)
	}

	edgeFile, err := os.Create(files.EdgeList)
	if err != nil {
		return files, errors.Wrap(err, "create edge list")
	}
	defer edgeFile.Close()
	dimacsFile, err := os.Create(files.Dimacs)
	if err != nil {
		return files, errors.Wrap(err, "create dimacs file")
	}
	defer dimacsFile.Close()
	metaFile, err := os.Create(files.Meta)
	if err != nil {
		return files, errors.Wrap(err, "create meta file")
	}
	defer metaFile.Close()

	edges := bufio.NewWriter(edgeFile)
	dimacs := bufio.NewWriter(dimacsFile)
	meta := bufio.NewWriter(metaFile)

	fmt.Fprintf(dimacs, "p %d %d\n", l.numOwned, l.numOwnedEdges)
	var word [8]byte
	writeWord := func(v uint64) {
		binary.LittleEndian.PutUint64(word[:], v)
		meta.Write(word[:])
	}
	writeWord(uint64(l.numOwned))

	for lid := uint32(0); lid < l.numOwned; lid++ {
		srcGID := l.L2G(lid)
		for _, dst := range l.Edges(lid) {
			fmt.Fprintf(edges, "%d %d %d\n", srcGID, l.L2G(dst), l.hostID)
			fmt.Fprintf(dimacs, "%d %d 1\n", lid+1, dst+1)
		}
		writeWord(srcGID)
		writeWord(uint64(lid))
		writeWord(uint64(l.OwnerOfLID(lid)))
	}

	for _, w := range []*bufio.Writer{edges, dimacs, meta} {
		if err := w.Flush(); err != nil {
			return files, errors.Wrap(err, "flush local graph")
		}
	}
	return files, nil
}

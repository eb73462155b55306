package pack

const (
	// IndexExt is the extension of a pack index file.
	IndexExt = ".idx"
	// DataExt is the extension of a pack data file.
	DataExt = ".pack"
	// MultiIndexName is the file name of a multi-pack-index inside a pack directory.
	MultiIndexName = "multi-pack-index"
)

const (
	fanoutEntries = 256
	fanoutSize    = fanoutEntries * 4
	hashLenSHA1   = 20
	hashLenSHA256 = 32

	indexV2HeaderSize = 8
	dataHeaderSize    = 12
	midxHeaderSize    = 12
	midxChunkRowSize  = 12
)

var (
	indexV2Magic = [4]byte{0xff, 't', 'O', 'c'}
	dataMagic    = [4]byte{'P', 'A', 'C', 'K'}
	midxMagic    = [4]byte{'M', 'I', 'D', 'X'}
	chunkPNAM    = [4]byte{'P', 'N', 'A', 'M'}
)

package store

// packDirName is the subdirectory of an objects directory holding pack files.
const packDirName = "pack"

// slotHeadroom is extra capacity reserved when the slot array is first sized.
const slotHeadroom = 8

package plain

type Value int

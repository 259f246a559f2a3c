package realname_test
